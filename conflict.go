package couch

import (
	"context"
	"net/http"
)

const (
	ConflictsDesignID = "conflicts" // Design document for conflicts view
	ConflictsViewID   = "all"       // Name of the view to query documents with conflicts
)

var conflictsView = ViewRef{Design: ConflictsDesignID, View: ConflictsViewID}

// Describes a conflict between different document revisions.
// Opaque type, use associated methods.
type Conflict struct {
	db        *Database
	docID     string
	revisions []Document
}

// ConflictFor gets conflicting revisions for a document id. Returns nil if
// there are no conflicts.
func (db *Database) ConflictFor(ctx context.Context, docID string) (*Conflict, error) {
	revs, err := db.openRevsFor(ctx, docID)
	if err != nil {
		return nil, err
	}
	openLeaves := filterOpenLeafDocs(revs)
	if len(openLeaves) <= 1 { // One alone does not a conflict make
		return nil, nil
	}
	return &Conflict{revisions: openLeaves, docID: docID, db: db}, nil
}

// SolveWith solves a conflict with a final document. The returned document
// has the id of the conflicting document and the revision CouchDB reports
// once the operation is complete.
//
// If the operation is successful, the conflict c will no longer hold any information about
// the formerly conflicting revisions.
//
// Be aware that while you solve a conflict, another party might have done so right before
// you. In this case of a lost update you will receive an error. You should
// then ask about the state of the conflict again using db.ConflictFor(ctx, docID).
func (c *Conflict) SolveWith(ctx context.Context, finalDoc Document) (Document, error) {
	if !c.isReal() {
		return finalDoc, nil
	}

	// Make finalDoc the new leaf of the first open branch.
	// To do so, assign it the revision id of the first revision.
	id, rev := c.revisions[0].IDRev()
	leaves := []Document{finalDoc.withIDRev(id, rev)}

	// Close all other open branches by marking their leaves deleted
	for _, rev := range c.revisions[1:] {
		closed := rev.Clone()
		closed["_deleted"] = true
		leaves = append(leaves, closed)
	}
	saved, err := c.db.SaveBulk(ctx, leaves, false)
	if err != nil {
		return nil, err
	}
	c.revisions = nil
	return saved[0], nil
}

// Revisions decodes all conflicting document revisions into v, usually a
// pointer to a slice of structs:
//
//	var revs []MyStruct
//	conflict.Revisions(&revs)
//
// or any other type mapstructure can decode into, like []map[string]interface{}.
func (c *Conflict) Revisions(v interface{}) error {
	return decode(c.revisions, v)
}

// Returns number of conflicting revisions
func (c *Conflict) RevisionsCount() int {
	return len(c.revisions)
}

// DocID returns the id of the conflicting document.
func (c *Conflict) DocID() string {
	return c.docID
}

func (c *Conflict) isReal() bool {
	return len(c.revisions) > 1
}

// Conflicts returns the ids of all documents with conflicts. To do so, a
// dedicated view is necessary at [db-url]/_design/conflicts/_view/all. If it
// doesn't exist and forceView is enabled, it will be automatically set up.
//
// Note, that if the database is already large at that point, this operation can take
// a very long time. It's recommended to call this method or ConflictsCount() right after
// creating a new database.
func (db *Database) Conflicts(ctx context.Context, forceView bool) (docIDs []string, err error) {
	if err = db.ensureConflictView(ctx, forceView); err != nil {
		return nil, err
	}
	result, err := db.Query(ctx, conflictsView, &Options{Reduce: Bool(false)})
	if err != nil {
		return nil, err
	}
	return result.IDs(), nil
}

// ConflictsCount returns the number of conflicts, sets up view if forceView is enabled.
// See db.Conflicts() for possible issues around creating a view.
func (db *Database) ConflictsCount(ctx context.Context, forceView bool) (int, error) {
	if err := db.ensureConflictView(ctx, forceView); err != nil {
		return 0, err
	}
	result, err := db.Query(ctx, conflictsView, &Options{Reduce: Bool(true)})
	if err != nil {
		return 0, err
	}
	if len(result.Rows) > 0 {
		return result.Rows[0].ValueInt(), nil
	}
	return 0, nil
}

// Make sure a conflict view exist, if not, create it if forceView is enabled
func (db *Database) ensureConflictView(ctx context.Context, forceView bool) error {
	if db.HasView(ctx, conflictsView) || !forceView {
		return nil
	}
	return db.createConflictView(ctx)
}

// Inserts a design document with a view containing a map function to collect
// document ids with conflicts and a reduce function to count them.
func (db *Database) createConflictView(ctx context.Context) error {
	d := newDesign(ConflictsDesignID)
	d.Views[ConflictsViewID] = view{
		Map:    `function(doc) { if (doc._conflicts) { emit(null, null); } }`,
		Reduce: `_count`,
	}
	doc, err := NewDocument(d)
	if err != nil {
		return err
	}
	_, err = db.SaveDoc(ctx, doc, nil)
	return err
}

// Used to read out CouchDBs answer to open_revs and filter by 'ok' field (=available revision)
// See http://docs.couchdb.org/en/latest/replication/conflicts.html#working-with-conflicting-documents
type openRevision struct {
	Doc Document `json:"ok"`
}

// Gets all open and available revisions of a document (including _deleted ones)
func (db *Database) openRevsFor(ctx context.Context, docID string) ([]openRevision, error) {
	var revs []openRevision
	err := db.do(ctx, http.MethodGet, docPath(docID), http.StatusOK, &Options{OpenRevs: "all"}, &revs)
	return revs, err
}

// Returns docs that are not marked as deleted
func filterOpenLeafDocs(revs []openRevision) []Document {
	var openRevs []Document
	for _, rev := range revs {
		if rev.Doc == nil {
			continue
		}
		if del, _ := rev.Doc["_deleted"].(bool); !del {
			openRevs = append(openRevs, rev.Doc)
		}
	}
	return openRevs
}
