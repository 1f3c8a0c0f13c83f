package fakecouch

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) fail(c *gin.Context, err error) {
	var se *storeError
	if errors.As(err, &se) {
		c.JSON(se.status, gin.H{"error": se.typ, "reason": se.reason})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": err.Error()})
}

// readBody decodes a JSON object body. An empty body gives a nil map.
func readBody(c *gin.Context) (map[string]interface{}, error) {
	var body map[string]interface{}
	if c.Request.ContentLength == 0 {
		return nil, nil
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		return nil, &storeError{http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON"}
	}
	return body, nil
}

// db looks up the database named in the path. The caller holds s.mu.
func (s *Server) db(c *gin.Context) (*database, bool) {
	db, ok := s.dbs[c.Param("db")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "Database does not exist."})
	}
	return db, ok
}

func (s *Server) activeTasks(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.tasks
	if tasks == nil {
		tasks = []map[string]interface{}{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) allDBs(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, names)
}

func (s *Server) uuids(c *gin.Context) {
	count := 1
	if v := c.Query("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "reason": "Invalid count"})
			return
		}
		count = n
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = newID()
	}
	c.JSON(http.StatusOK, gin.H{"uuids": ids})
}

// dbNameFromURL takes the database name from a replication endpoint, which
// is either a plain name or a URL on this server.
func dbNameFromURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	name := strings.Trim(u.EscapedPath(), "/")
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func (s *Server) replicate(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	source, _ := body["source"].(string)
	target, _ := body["target"].(string)
	continuous, _ := body["continuous"].(bool)
	cancel, _ := body["cancel"].(bool)
	createTarget, _ := body["create_target"].(bool)
	srcName, dstName := dbNameFromURL(source), dbNameFromURL(target)
	replID := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceURL, []byte(srcName+"|"+dstName)).String(), "-", "")
	localID := replID + "+continuous"
	if createTarget {
		localID += "+create_target"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel {
		for i, task := range s.tasks {
			if id, _ := task["replication_id"].(string); strings.HasPrefix(id, replID) {
				s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
				c.JSON(http.StatusOK, gin.H{"ok": true, "_local_id": id})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "Replication not found"})
		return
	}

	src, ok := s.dbs[srcName]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "db_not_found", "reason": "could not open " + source})
		return
	}
	dst, ok := s.dbs[dstName]
	if !ok {
		if !createTarget {
			c.JSON(http.StatusNotFound, gin.H{"error": "db_not_found", "reason": "could not open " + target})
			return
		}
		dst = newDatabase(dstName)
		s.dbs[dstName] = dst
	}
	for id, e := range src.docs {
		dst.merge(id, e)
	}

	if continuous {
		s.tasks = append(s.tasks, map[string]interface{}{
			"type":           "replication",
			"replication_id": localID,
			"source":         srcName,
			"target":         dstName,
			"continuous":     true,
		})
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "_local_id": localID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"session_id":      newID(),
		"source_last_seq": src.seq,
	})
}

func (s *Server) createDB(c *gin.Context) {
	name := c.Param("db")
	if !dbNamePattern.MatchString(name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "illegal_database_name",
			"reason": "Name: '" + name + "'. Only lowercase characters (a-z), digits (0-9), and any of the characters _, $, (, ), +, -, and / are allowed. Must begin with a letter.",
		})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; ok {
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error":  "file_exists",
			"reason": "The database could not be created, the file already exists.",
		})
		return
	}
	s.dbs[name] = newDatabase(name)
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (s *Server) dropDB(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.db(c); !ok {
		return
	}
	delete(s.dbs, c.Param("db"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) dbInfo(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}
	live, deleted := db.counts()
	c.JSON(http.StatusOK, gin.H{
		"db_name":             db.name,
		"doc_count":           live,
		"doc_del_count":       deleted,
		"update_seq":          db.seq,
		"purge_seq":           0,
		"compact_running":     false,
		"disk_size":           4096 * (live + deleted + 1),
		"instance_start_time": "0",
	})
}

func (s *Server) compact(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.db(c); !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *Server) postDoc(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}
	id, _ := body["_id"].(string)
	if id == "" {
		id = newID()
	}
	s.writeDoc(c, db, id, body, http.StatusCreated)
}

func (s *Server) putDoc(c *gin.Context) {
	s.putDocID(c, c.Param("docid"))
}

func (s *Server) putDesign(c *gin.Context) {
	s.putDocID(c, "_design/"+c.Param("ddoc"))
}

func (s *Server) putDocID(c *gin.Context, id string) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	if rev := c.Query("rev"); rev != "" {
		body["_rev"] = rev
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}
	s.writeDoc(c, db, id, body, http.StatusCreated)
}

func (s *Server) deleteDoc(c *gin.Context) {
	id := c.Param("docid")
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}
	if _, ok := db.docs[id]; !ok {
		s.fail(c, errNotFound)
		return
	}
	body := map[string]interface{}{"_id": id, "_rev": c.Query("rev"), "_deleted": true}
	s.writeDoc(c, db, id, body, http.StatusOK)
}

func (s *Server) writeDoc(c *gin.Context, db *database, id string, body map[string]interface{}, status int) {
	rev, err := db.put(id, body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(status, gin.H{"ok": true, "id": id, "rev": rev})
}

func (s *Server) getDoc(c *gin.Context) {
	s.getDocID(c, c.Param("docid"))
}

func (s *Server) getDesign(c *gin.Context) {
	s.getDocID(c, "_design/"+c.Param("ddoc"))
}

func (s *Server) getDocID(c *gin.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}
	if c.Query("open_revs") == "all" {
		revs, err := db.openRevs(id)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, revs)
		return
	}
	d, err := db.get(id, c.Query("rev"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) allDocs(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	rq, err := parseRowQuery(c.Request.URL.Query(), body)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}

	docRow := func(id string) (row, bool) {
		e, ok := db.docs[id]
		if !ok || e.deleted {
			return row{}, false
		}
		w := e.winner()
		r := row{ID: id, Key: id, Value: map[string]interface{}{"rev": w["_rev"]}}
		if rq.includeDocs {
			r.Doc = copyDoc(w)
		}
		return r, true
	}

	var rows []row
	if rq.hasKeys {
		for _, k := range rq.keys {
			id, _ := k.(string)
			r, ok := docRow(id)
			if !ok {
				r = row{Key: k, Error: "not_found"}
			}
			rows = append(rows, r)
		}
	} else {
		for _, id := range db.ids() {
			r, _ := docRow(id)
			rows = append(rows, r)
		}
		rows = rq.selectRows(rows)
	}
	rows = rq.page(rows)
	if rows == nil {
		rows = []row{}
	}
	live, _ := db.counts()
	c.JSON(http.StatusOK, gin.H{"total_rows": live, "offset": rq.skip, "rows": rows})
}

func (s *Server) bulkDocs(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	docs, _ := body["docs"].([]interface{})

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}

	results := make([]gin.H, 0, len(docs))
	for _, v := range docs {
		d, _ := v.(map[string]interface{})
		if d == nil {
			d = map[string]interface{}{}
		}
		id, _ := d["_id"].(string)
		if id == "" {
			id = newID()
		}
		rev, err := db.put(id, d)
		var se *storeError
		switch {
		case err == nil:
			results = append(results, gin.H{"ok": true, "id": id, "rev": rev})
		case errors.As(err, &se):
			results = append(results, gin.H{"id": id, "error": se.typ, "reason": se.reason})
		default:
			results = append(results, gin.H{"id": id, "error": "unknown_error", "reason": err.Error()})
		}
	}
	c.JSON(http.StatusCreated, results)
}

func (s *Server) queryView(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	rq, err := parseRowQuery(c.Request.URL.Query(), body)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.db(c)
	if !ok {
		return
	}
	def, ok := s.lookupView(db, c.Param("ddoc"), c.Param("view"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "missing_named_view"})
		return
	}

	all := evalView(db, def)
	rows := rq.selectRows(all)
	if def.reduceCount && (!rq.reduceSet || rq.reduce) {
		c.JSON(http.StatusOK, gin.H{"rows": rq.page(countRows(rows, rq.group))})
		return
	}
	if rq.includeDocs {
		for i := range rows {
			if d, err := db.get(rows[i].ID, ""); err == nil {
				rows[i].Doc = d
			}
		}
	}
	rows = rq.page(rows)
	if rows == nil {
		rows = []row{}
	}
	c.JSON(http.StatusOK, gin.H{"total_rows": len(all), "offset": rq.skip, "rows": rows})
}
