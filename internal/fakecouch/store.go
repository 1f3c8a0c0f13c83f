package fakecouch

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type doc = map[string]interface{}

// database keeps the documents of one database. Every document is a set of
// leaf revisions; more than one leaf means a conflict.
type database struct {
	name string
	docs map[string]*entry
	seq  int
}

type entry struct {
	leaves  []doc
	history map[string]doc
	deleted bool
}

// storeError is answered to the client as {error, reason} with status.
type storeError struct {
	status int
	typ    string
	reason string
}

func (e *storeError) Error() string {
	return e.typ + ": " + e.reason
}

var (
	errNotFound = &storeError{404, "not_found", "missing"}
	errDeleted  = &storeError{404, "not_found", "deleted"}
	errConflict = &storeError{409, "conflict", "Document update conflict."}
)

var dbNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

func newDatabase(name string) *database {
	return &database{
		name: name,
		docs: make(map[string]*entry),
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newRev(gen int) string {
	return strconv.Itoa(gen) + "-" + strings.ToLower(ulid.Make().String())
}

func revGen(rev string) int {
	i := strings.IndexByte(rev, '-')
	if i < 0 {
		return 0
	}
	n, _ := strconv.Atoi(rev[:i])
	return n
}

func copyDoc(d doc) doc {
	c := make(doc, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// winner is the leaf CouchDB would report: highest generation, then the
// highest revision string.
func (e *entry) winner() doc {
	return e.leaves[0]
}

func (e *entry) sortLeaves() {
	sort.SliceStable(e.leaves, func(i, j int) bool {
		ri, _ := e.leaves[i]["_rev"].(string)
		rj, _ := e.leaves[j]["_rev"].(string)
		if gi, gj := revGen(ri), revGen(rj); gi != gj {
			return gi > gj
		}
		return ri > rj
	})
}

func (e *entry) leafIndex(rev string) int {
	for i, leaf := range e.leaves {
		if leaf["_rev"] == rev {
			return i
		}
	}
	return -1
}

// conflicts lists the revisions of all losing leaves.
func (e *entry) conflicts() []interface{} {
	var revs []interface{}
	for _, leaf := range e.leaves[1:] {
		revs = append(revs, leaf["_rev"])
	}
	return revs
}

// put writes body as a new revision. Bodies with "_deleted": true remove
// the leaf they name.
func (db *database) put(id string, body doc) (string, error) {
	rev, _ := body["_rev"].(string)
	deleted, _ := body["_deleted"].(bool)
	e, ok := db.docs[id]

	if !ok || e.deleted {
		if deleted {
			return "", errNotFound
		}
		if rev != "" && !ok {
			return "", errConflict
		}
		gen := 1
		if ok {
			tomb, _ := e.winner()["_rev"].(string)
			gen = revGen(tomb) + 1
		}
		stored := copyDoc(body)
		delete(stored, "_deleted")
		stored["_id"] = id
		stored["_rev"] = newRev(gen)
		if !ok {
			e = &entry{history: make(map[string]doc)}
			db.docs[id] = e
		}
		e.leaves = []doc{stored}
		e.deleted = false
		e.history[stored["_rev"].(string)] = stored
		db.seq++
		return stored["_rev"].(string), nil
	}

	i := e.leafIndex(rev)
	if rev == "" || i < 0 {
		return "", errConflict
	}
	newRevision := newRev(revGen(rev) + 1)
	db.seq++
	if deleted {
		e.leaves = append(e.leaves[:i], e.leaves[i+1:]...)
		tomb := doc{"_id": id, "_rev": newRevision, "_deleted": true}
		e.history[newRevision] = tomb
		if len(e.leaves) == 0 {
			e.deleted = true
			e.leaves = []doc{tomb}
		}
		return newRevision, nil
	}
	stored := copyDoc(body)
	stored["_id"] = id
	stored["_rev"] = newRevision
	e.leaves[i] = stored
	e.history[newRevision] = stored
	e.sortLeaves()
	return newRevision, nil
}

// get returns the winning revision, or the given one.
func (db *database) get(id, rev string) (doc, error) {
	e, ok := db.docs[id]
	if !ok {
		return nil, errNotFound
	}
	if rev != "" {
		d, ok := e.history[rev]
		if !ok {
			return nil, errNotFound
		}
		return copyDoc(d), nil
	}
	if e.deleted {
		return nil, errDeleted
	}
	d := copyDoc(e.winner())
	return d, nil
}

// openRevs returns all leaves as CouchDB's open_revs=all does.
func (db *database) openRevs(id string) ([]interface{}, error) {
	e, ok := db.docs[id]
	if !ok {
		return nil, errNotFound
	}
	revs := make([]interface{}, 0, len(e.leaves))
	for _, leaf := range e.leaves {
		revs = append(revs, map[string]interface{}{"ok": copyDoc(leaf)})
	}
	return revs, nil
}

// merge adds the leaves of another document, the way replication does.
// Leaves already present are skipped.
func (db *database) merge(id string, src *entry) {
	e, ok := db.docs[id]
	if !ok {
		e = &entry{history: make(map[string]doc)}
		db.docs[id] = e
	}
	for rev, d := range src.history {
		e.history[rev] = copyDoc(d)
	}
	if src.deleted {
		if !ok {
			e.deleted = true
			e.leaves = []doc{copyDoc(src.winner())}
		}
		return
	}
	if e.deleted {
		e.leaves = nil
		e.deleted = false
	}
	for _, leaf := range src.leaves {
		rev, _ := leaf["_rev"].(string)
		if e.leafIndex(rev) >= 0 {
			continue
		}
		// A leaf that is an ancestor of the incoming one is replaced.
		replaced := false
		for i, mine := range e.leaves {
			myRev, _ := mine["_rev"].(string)
			if src.history[myRev] != nil && revGen(myRev) < revGen(rev) {
				e.leaves[i] = copyDoc(leaf)
				replaced = true
				break
			}
		}
		if !replaced {
			e.leaves = append(e.leaves, copyDoc(leaf))
		}
	}
	e.sortLeaves()
	db.seq++
}

// ids returns the ids of all live documents in collation order.
func (db *database) ids() []string {
	ids := make([]string, 0, len(db.docs))
	for id, e := range db.docs {
		if !e.deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (db *database) counts() (live, deleted int) {
	for _, e := range db.docs {
		if e.deleted {
			deleted++
		} else {
			live++
		}
	}
	return live, deleted
}

// AddConflict adds a conflicting leaf to an existing document, as if another
// replica had edited the same revision. It returns the new leaf's revision.
func (s *Server) AddConflict(dbName, id string, body map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[dbName]
	if !ok {
		return "", fmt.Errorf("fakecouch: no database %q", dbName)
	}
	e, ok := db.docs[id]
	if !ok || e.deleted {
		return "", fmt.Errorf("fakecouch: no document %q", id)
	}
	rev, _ := e.winner()["_rev"].(string)
	leaf := copyDoc(body)
	leaf["_id"] = id
	leaf["_rev"] = newRev(revGen(rev))
	e.leaves = append(e.leaves, leaf)
	e.history[leaf["_rev"].(string)] = leaf
	e.sortLeaves()
	db.seq++
	return leaf["_rev"].(string), nil
}
