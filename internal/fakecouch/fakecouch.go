// Package fakecouch is an in-memory stand-in for a CouchDB server, good
// enough to exercise the client in tests. It keeps documents as revision
// leaves so replication can produce real conflicts, and evaluates views with
// Go functions registered through DefineView.
package fakecouch

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Request is a request as the server received it.
type Request struct {
	Method        string
	Path          string
	RawQuery      string
	ContentType   string
	Authorization string
	Body          []byte
}

// Server is a fake CouchDB instance listening on a local port.
type Server struct {
	mu       sync.Mutex
	dbs      map[string]*database
	tasks    []map[string]interface{}
	views    map[viewKey]*viewDef
	requests []Request
	user     string
	password string

	router *gin.Engine
	ts     *httptest.Server
}

// New starts a server. Close it when done.
func New() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		dbs:   make(map[string]*database),
		views: make(map[viewKey]*viewDef),
	}
	s.router = s.routes()
	s.ts = httptest.NewServer(s)
	return s
}

// URL of the server, e.g. "http://127.0.0.1:51234".
func (s *Server) URL() string {
	return s.ts.URL
}

// URLWithAuth returns the server URL with credentials embedded.
func (s *Server) URLWithAuth(user, password string) string {
	return strings.Replace(s.ts.URL, "://", "://"+user+":"+password+"@", 1)
}

// Close shuts the server down.
func (s *Server) Close() {
	s.ts.Close()
}

// RequireAuth makes every request after this call need basic auth with the
// given credentials.
func (s *Server) RequireAuth(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user, s.password = user, password
}

// Requests returns all requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request.
func (s *Server) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}
	}
	return s.requests[len(s.requests)-1]
}

// AddTask adds an entry to _active_tasks.
func (s *Server) AddTask(task map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// ServeHTTP strips trailing slashes, CouchDB treats "/db/" and "/db" alike.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Path) > 1 && strings.HasSuffix(r.URL.Path, "/") {
		r.URL.Path = strings.TrimRight(r.URL.Path, "/")
		if r.URL.RawPath != "" {
			r.URL.RawPath = strings.TrimRight(r.URL.RawPath, "/")
		}
	}
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.RedirectTrailingSlash = false
	r.Use(s.record, s.authenticate)

	r.GET("/_active_tasks", s.activeTasks)
	r.GET("/_all_dbs", s.allDBs)
	r.GET("/_uuids", s.uuids)
	r.POST("/_replicate", s.replicate)

	r.PUT("/:db", s.createDB)
	r.DELETE("/:db", s.dropDB)
	r.GET("/:db", s.dbInfo)
	r.HEAD("/:db", s.dbInfo)
	r.POST("/:db", s.postDoc)
	r.POST("/:db/_compact", s.compact)
	r.GET("/:db/_all_docs", s.allDocs)
	r.POST("/:db/_all_docs", s.allDocs)
	r.POST("/:db/_bulk_docs", s.bulkDocs)

	r.GET("/:db/_design/:ddoc", s.getDesign)
	r.HEAD("/:db/_design/:ddoc", s.getDesign)
	r.PUT("/:db/_design/:ddoc", s.putDesign)
	r.GET("/:db/_design/:ddoc/_view/:view", s.queryView)
	r.HEAD("/:db/_design/:ddoc/_view/:view", s.queryView)
	r.POST("/:db/_design/:ddoc/_view/:view", s.queryView)

	r.GET("/:db/:docid", s.getDoc)
	r.HEAD("/:db/:docid", s.getDoc)
	r.PUT("/:db/:docid", s.putDoc)
	r.DELETE("/:db/:docid", s.deleteDoc)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "missing"})
	})
	return r
}

// record keeps a copy of every request, body included.
func (s *Server) record(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:        c.Request.Method,
		Path:          c.Request.URL.EscapedPath(),
		RawQuery:      c.Request.URL.RawQuery,
		ContentType:   c.GetHeader("Content-Type"),
		Authorization: c.GetHeader("Authorization"),
		Body:          body,
	})
	s.mu.Unlock()
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	s.mu.Lock()
	user, password := s.user, s.password
	s.mu.Unlock()
	if user == "" {
		c.Next()
		return
	}
	u, p, ok := c.Request.BasicAuth()
	if !ok || u != user || p != password {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":  "unauthorized",
			"reason": "Name or password is incorrect.",
		})
		return
	}
	c.Next()
}
