package couch

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickjuchli/couch/v2/internal/fakecouch"
)

// recorder is an interactor that answers every request with the same body.
type recorder struct {
	requests []*request
	response string
}

func (r *recorder) interact(_ context.Context, req *request) (json.RawMessage, error) {
	r.requests = append(r.requests, req)
	return json.RawMessage(r.response), nil
}

func (r *recorder) last() *request {
	return r.requests[len(r.requests)-1]
}

func TestViewPath(t *testing.T) {
	t.Parallel()
	rec := &recorder{response: `{"total_rows":0,"offset":0,"rows":[]}`}
	db := newDatabase(rec, "http://localhost:5984", "db")

	_, err := db.View(context.Background(), "design/viewname", nil)
	require.NoError(t, err)
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "/db/_design/design/_view/viewname", rec.last().path)
	assert.Equal(t, http.MethodGet, rec.last().method)
	assert.Equal(t, http.StatusOK, rec.last().expect)
	assert.Equal(t, "http://localhost:5984", rec.last().host)

	_, err = db.View(context.Background(), "my design/my view", &Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "/db/_design/my%20design/_view/my%20view", rec.last().path)
	assert.Equal(t, 1, rec.last().opts.Limit)
}

func TestOperationRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name   string
		run    func(db *Database) error
		method string
		path   string
		expect int
	}{
		{"create", func(db *Database) error { return db.Create(ctx, nil) }, http.MethodPut, "/db/", http.StatusCreated},
		{"drop", func(db *Database) error { return db.Drop(ctx, nil) }, http.MethodDelete, "/db/", http.StatusOK},
		{"compact", func(db *Database) error { return db.Compact(ctx, nil) }, http.MethodPost, "/db/_compact", http.StatusAccepted},
		{"info", func(db *Database) error { _, err := db.Info(ctx, nil); return err }, http.MethodGet, "/db/", http.StatusOK},
		{"all docs", func(db *Database) error { _, err := db.AllDocs(ctx, nil); return err }, http.MethodGet, "/db/_all_docs", http.StatusOK},
		{"open doc", func(db *Database) error { _, err := db.OpenDoc(ctx, "a b", nil); return err }, http.MethodGet, "/db/a%20b", http.StatusOK},
		{"open design doc", func(db *Database) error { _, err := db.OpenDoc(ctx, "_design/x", nil); return err }, http.MethodGet, "/db/_design/x", http.StatusOK},
		{"bulk", func(db *Database) error { _, err := db.SaveBulk(ctx, nil, false); return err }, http.MethodPost, "/db/_bulk_docs", http.StatusCreated},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{response: `{}`}
			if tc.name == "bulk" {
				rec.response = `[]`
			}
			require.NoError(t, tc.run(newDatabase(rec, "", "db")))
			require.Len(t, rec.requests, 1)
			assert.Equal(t, tc.method, rec.last().method)
			assert.Equal(t, tc.path, rec.last().path)
			assert.Equal(t, tc.expect, rec.last().expect)
		})
	}
}

func TestSaveDocNotOK(t *testing.T) {
	t.Parallel()
	rec := &recorder{response: `{"ok":false,"reason":"quota"}`}
	db := newDatabase(rec, "", "db")
	doc := Document{"_id": "a", "_rev": "1-x", "n": 1}

	got, err := db.SaveDoc(context.Background(), doc, nil)
	require.Error(t, err)
	assert.Equal(t, ErrTypeNotOK, ErrorType(err))
	assert.Equal(t, doc, got, "document is returned unchanged")
	assert.Equal(t, http.MethodPut, rec.last().method)

	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "/db/a", cErr.Path)
	assert.Equal(t, "quota", cErr.Reason)
}

func TestRemoveDocNotOK(t *testing.T) {
	t.Parallel()
	rec := &recorder{response: `{"ok":false,"error":"forbidden","reason":"no"}`}
	db := newDatabase(rec, "", "db")
	doc := Document{"_id": "a", "_rev": "1-x"}

	got, err := db.RemoveDoc(context.Background(), doc, nil)
	require.Error(t, err)
	assert.Equal(t, "forbidden", ErrorType(err))
	assert.Equal(t, Document{"_id": "a"}, got, "revision is cleared even if the server refused")
	assert.Equal(t, "1-x", doc.Rev(), "input document must not be modified")
	assert.Equal(t, "1-x", rec.last().opts.Rev)
}

func TestRemoveDocKeepsCallerOptions(t *testing.T) {
	t.Parallel()
	rec := &recorder{response: `{"ok":true,"id":"a","rev":"2-y"}`}
	db := newDatabase(rec, "", "db")
	opts := &Options{Extra: []Param{{Name: "batch", Value: "ok"}, {Name: "rev", Value: "9-z"}}}

	_, err := db.RemoveDoc(context.Background(), Document{"_id": "a", "_rev": "1-x"}, opts)
	require.NoError(t, err)
	assert.Empty(t, opts.Rev, "caller options must not be modified")
	assert.Equal(t, "?rev=1-x&batch=ok", rec.last().opts.Encode())
}

func TestDecodeFailureIsTransportError(t *testing.T) {
	t.Parallel()
	rec := &recorder{response: `[1, 2]`}
	db := newDatabase(rec, "", "db")

	_, err := db.Info(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestNormalizeMethod(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.MethodGet, normalizeMethod("get"))
	assert.Equal(t, http.MethodPost, normalizeMethod("Post"))
	assert.Equal(t, http.MethodDelete, normalizeMethod("del"))
	assert.Equal(t, http.MethodDelete, normalizeMethod("DELETE"))
	assert.Equal(t, http.MethodHead, normalizeMethod("head"))
}

func TestConnCache(t *testing.T) {
	t.Parallel()
	cc := newConnCache(2, 0)

	a1, err := cc.get("http://a:5984")
	require.NoError(t, err)
	a2, err := cc.get("http://a:5984")
	require.NoError(t, err)
	assert.Same(t, a1, a2, "same host string yields the same connection")

	b, err := cc.get("http://user:pw@a:5984")
	require.NoError(t, err)
	assert.NotSame(t, a1, b, "host strings are keys, credentials included")
	assert.Equal(t, 2, cc.len())
	assert.Equal(t, "http://a:5984/x?y=1", b.url("/x?y=1"))

	_, err = cc.get("not a url")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, 2, cc.len())

	cc.close()
	assert.Zero(t, cc.len())
	a3, err := cc.get("http://a:5984")
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)
}

func TestInteractPromotesGetWithBody(t *testing.T) {
	srv := fakecouch.New()
	defer srv.Close()
	c, err := NewClient(&Config{DefaultHost: srv.URL(), Logger: hclog.NewNullLogger()})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.interact(ctx, &request{method: "put", path: "/db/", expect: http.StatusCreated})
	require.NoError(t, err)

	raw, err := c.interact(ctx, &request{
		method: "get",
		path:   "/db/_all_docs",
		expect: http.StatusOK,
		opts:   &Options{Keys: []interface{}{"a"}, Body: map[string]interface{}{"ignored": true}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rows"`)

	req := srv.LastRequest()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.ContentType)
	assert.JSONEq(t, `{"keys":["a"]}`, string(req.Body))

	_, err = c.interact(ctx, &request{method: "get", path: "/db/", expect: http.StatusOK})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, srv.LastRequest().Method)
	assert.Empty(t, srv.LastRequest().Body)

	assert.Equal(t, 1, c.conns.len(), "one connection per host")
}

func TestInteractUnexpectedStatus(t *testing.T) {
	srv := fakecouch.New()
	defer srv.Close()
	c, err := NewClient(&Config{DefaultHost: srv.URL(), Logger: hclog.NewNullLogger()})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.interact(context.Background(), &request{method: "del", path: "/missing/", expect: http.StatusOK})
	require.Error(t, err)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, http.StatusNotFound, cErr.StatusCode)
	assert.Equal(t, http.MethodDelete, cErr.Method)
	assert.Equal(t, "/missing/", cErr.Path)
	assert.Equal(t, "not_found", cErr.Type)
	assert.NotEmpty(t, cErr.Reason)
	assert.JSONEq(t, string(cErr.Body), `{"error":"not_found","reason":"Database does not exist."}`)
}
