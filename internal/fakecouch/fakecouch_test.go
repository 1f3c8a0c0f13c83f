package fakecouch

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, s *Server, method, path string, body interface{}) (int, interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL()+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func field(v interface{}, name string) interface{} {
	m, _ := v.(map[string]interface{})
	return m[name]
}

func TestDatabases(t *testing.T) {
	s := New()
	defer s.Close()

	status, _ := do(t, s, http.MethodPut, "/db/", nil)
	assert.Equal(t, http.StatusCreated, status)
	status, body := do(t, s, http.MethodPut, "/db", nil)
	assert.Equal(t, http.StatusPreconditionFailed, status)
	assert.Equal(t, "file_exists", field(body, "error"))
	status, body = do(t, s, http.MethodPut, "/9lives", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "illegal_database_name", field(body, "error"))

	status, body = do(t, s, http.MethodGet, "/_all_dbs", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"db"}, body)

	status, body = do(t, s, http.MethodGet, "/db/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "db", field(body, "db_name"))

	status, _ = do(t, s, http.MethodPost, "/db/_compact", nil)
	assert.Equal(t, http.StatusAccepted, status)

	status, _ = do(t, s, http.MethodDelete, "/db/", nil)
	assert.Equal(t, http.StatusOK, status)
	status, body = do(t, s, http.MethodGet, "/db/", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", field(body, "error"))

	status, body = do(t, s, http.MethodGet, "/_nothing_here/a/b/c", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", field(body, "error"))
}

func TestDocumentRevisions(t *testing.T) {
	s := New()
	defer s.Close()
	do(t, s, http.MethodPut, "/db", nil)

	status, body := do(t, s, http.MethodPost, "/db/", map[string]interface{}{"a": 1})
	require.Equal(t, http.StatusCreated, status)
	id := field(body, "id").(string)
	rev1 := field(body, "rev").(string)
	assert.Len(t, id, 32)
	assert.Equal(t, 1, revGen(rev1))

	status, body = do(t, s, http.MethodPut, "/db/"+id, map[string]interface{}{"_rev": rev1, "a": 2})
	require.Equal(t, http.StatusCreated, status)
	rev2 := field(body, "rev").(string)
	assert.Equal(t, 2, revGen(rev2))

	status, body = do(t, s, http.MethodPut, "/db/"+id, map[string]interface{}{"_rev": rev1, "a": 3})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", field(body, "error"))

	status, body = do(t, s, http.MethodGet, "/db/"+id+"?rev="+rev1, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, field(body, "a"))

	status, _ = do(t, s, http.MethodDelete, "/db/"+id+"?rev="+rev1, nil)
	assert.Equal(t, http.StatusConflict, status)
	status, body = do(t, s, http.MethodDelete, "/db/"+id+"?rev="+rev2, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, revGen(field(body, "rev").(string)))

	status, body = do(t, s, http.MethodGet, "/db/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "deleted", field(body, "reason"))

	// Recreating continues the revision history
	status, body = do(t, s, http.MethodPut, "/db/"+id, map[string]interface{}{"a": 4})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 4, revGen(field(body, "rev").(string)))
}

func TestConflicts(t *testing.T) {
	s := New()
	defer s.Close()
	do(t, s, http.MethodPut, "/db", nil)
	do(t, s, http.MethodPut, "/db/doc", map[string]interface{}{"v": "a"})

	rev, err := s.AddConflict("db", "doc", map[string]interface{}{"v": "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, revGen(rev))
	_, err = s.AddConflict("db", "missing", nil)
	assert.Error(t, err)
	_, err = s.AddConflict("nodb", "doc", nil)
	assert.Error(t, err)

	status, body := do(t, s, http.MethodGet, "/db/doc?open_revs=all", nil)
	require.Equal(t, http.StatusOK, status)
	leaves, _ := body.([]interface{})
	require.Len(t, leaves, 2)
	for _, leaf := range leaves {
		assert.NotNil(t, field(field(leaf, "ok"), "_rev"))
	}

	s.DefineView("db", "conflicts", "all", func(doc map[string]interface{}, emit func(key, value interface{})) {
		if doc["_conflicts"] != nil {
			emit(nil, doc["_conflicts"])
		}
	}, true)
	status, body = do(t, s, http.MethodGet, "/db/_design/conflicts/_view/all?reduce=false", nil)
	require.Equal(t, http.StatusOK, status)
	rows, _ := field(body, "rows").([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "doc", field(rows[0], "id"))

	status, body = do(t, s, http.MethodGet, "/db/_design/conflicts/_view/all", nil)
	require.Equal(t, http.StatusOK, status)
	rows, _ = field(body, "rows").([]interface{})
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, field(rows[0], "value"))
}

func TestReplication(t *testing.T) {
	s := New()
	defer s.Close()
	do(t, s, http.MethodPut, "/src", nil)
	do(t, s, http.MethodPut, "/src/doc", map[string]interface{}{"v": 1})

	req := map[string]interface{}{
		"source":        s.URL() + "/src",
		"target":        s.URL() + "/dst",
		"create_target": true,
	}
	status, body := do(t, s, http.MethodPost, "/_replicate", req)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, field(body, "session_id"))

	status, body = do(t, s, http.MethodGet, "/dst/doc", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, field(body, "v"))

	req["continuous"] = true
	status, body = do(t, s, http.MethodPost, "/_replicate", req)
	require.Equal(t, http.StatusAccepted, status)
	localID, _ := field(body, "_local_id").(string)
	assert.Contains(t, localID, "+continuous")

	_, body = do(t, s, http.MethodGet, "/_active_tasks", nil)
	tasks, _ := body.([]interface{})
	require.Len(t, tasks, 1)
	assert.Equal(t, localID, field(tasks[0], "replication_id"))

	req["cancel"] = true
	status, _ = do(t, s, http.MethodPost, "/_replicate", req)
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, s, http.MethodPost, "/_replicate", req)
	assert.Equal(t, http.StatusNotFound, status)

	req = map[string]interface{}{"source": "missing", "target": "dst"}
	status, body = do(t, s, http.MethodPost, "/_replicate", req)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "db_not_found", field(body, "error"))
}

func TestAuthAndRecording(t *testing.T) {
	s := New()
	defer s.Close()
	s.RequireAuth("much", "safe")

	status, body := do(t, s, http.MethodGet, "/_all_dbs", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", field(body, "error"))

	req, err := http.NewRequest(http.MethodGet, s.URL()+"/_uuids?count=2", nil)
	require.NoError(t, err)
	req.SetBasicAuth("much", "safe")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Len(t, s.Requests(), 2)
	last := s.LastRequest()
	assert.Equal(t, "/_uuids", last.Path)
	assert.Equal(t, "count=2", last.RawQuery)
	assert.NotEmpty(t, last.Authorization)
}

func TestCollate(t *testing.T) {
	ordered := []interface{}{
		nil, false, true, float64(1), float64(2), "a", "b",
		[]interface{}{"a"}, []interface{}{"a", float64(1)}, map[string]interface{}{"a": float64(1)},
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Negative(t, collate(ordered[i], ordered[i+1]), "%v < %v", ordered[i], ordered[i+1])
		assert.Positive(t, collate(ordered[i+1], ordered[i]), "%v > %v", ordered[i+1], ordered[i])
		assert.Zero(t, collate(ordered[i], ordered[i]))
	}
}
