package couch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-multierror"
)

// Database of a CouchDB instance. Handles are immutable and safe for
// concurrent use.
type Database struct {
	ix   interactor
	name string
	uri  string
	host string
}

// DatabaseInfo is the metadata CouchDB reports for a database.
type DatabaseInfo struct {
	DBName            string      `json:"db_name"`
	DocCount          int64       `json:"doc_count"`
	DocDelCount       int64       `json:"doc_del_count"`
	UpdateSeq         interface{} `json:"update_seq"`
	PurgeSeq          interface{} `json:"purge_seq"`
	CompactRunning    bool        `json:"compact_running"`
	DiskSize          int64       `json:"disk_size"`
	InstanceStartTime string      `json:"instance_start_time"`
}

// CouchDB result of document insert and delete
type docResult struct {
	OK     bool   `json:"ok"`
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func newDatabase(ix interactor, host, name string) *Database {
	return &Database{
		ix:   ix,
		name: name,
		uri:  "/" + escapeComponent(name) + "/",
		host: host,
	}
}

// Name of database
func (db *Database) Name() string {
	return db.name
}

// Host the database lives on.
func (db *Database) Host() string {
	return db.host
}

// URI returns the escaped path of the database, with leading and trailing slash.
func (db *Database) URI() string {
	return db.uri
}

// URL returns the absolute url to a database, including any credentials of
// the host.
func (db *Database) URL() string {
	return strings.TrimRight(db.host, "/") + strings.TrimSuffix(db.uri, "/")
}

// do runs a request against a path relative to the database.
func (db *Database) do(ctx context.Context, method, path string, expect int, opts *Options, result interface{}) error {
	r := &request{
		method: method,
		path:   db.uri + path,
		expect: expect,
		opts:   opts,
		host:   db.host,
	}
	return call(ctx, db.ix, r, result)
}

// Create a new database
func (db *Database) Create(ctx context.Context, opts *Options) error {
	return db.do(ctx, http.MethodPut, "", http.StatusCreated, opts, nil)
}

// Drop deletes the database
func (db *Database) Drop(ctx context.Context, opts *Options) error {
	return db.do(ctx, http.MethodDelete, "", http.StatusOK, opts, nil)
}

// Compact starts a compaction on the server. It returns once the server
// accepted the job, not when it is finished.
func (db *Database) Compact(ctx context.Context, opts *Options) error {
	return db.do(ctx, http.MethodPost, "_compact", http.StatusAccepted, opts, nil)
}

// Info returns the database metadata.
func (db *Database) Info(ctx context.Context, opts *Options) (*DatabaseInfo, error) {
	info := &DatabaseInfo{}
	if err := db.do(ctx, http.MethodGet, "", http.StatusOK, opts, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Exists returns true if a database really exists
func (db *Database) Exists(ctx context.Context) (bool, error) {
	err := db.do(ctx, http.MethodHead, "", http.StatusOK, nil, nil)
	if StatusCode(err) == http.StatusNotFound {
		return false, nil
	}
	return err == nil, err
}

// AllDocs lists the documents of the database.
func (db *Database) AllDocs(ctx context.Context, opts *Options) (*ViewResult, error) {
	result := &ViewResult{}
	if err := db.do(ctx, http.MethodGet, "_all_docs", http.StatusOK, opts, result); err != nil {
		return nil, err
	}
	return result, nil
}

// OpenDoc gets the latest revision of a document.
func (db *Database) OpenDoc(ctx context.Context, id string, opts *Options) (Document, error) {
	if err := validation.Validate(id, validation.Required); err != nil {
		return nil, fmt.Errorf("couch: document id: %w", err)
	}
	var doc Document
	if err := db.do(ctx, http.MethodGet, docPath(id), http.StatusOK, opts, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Retrieve gets a specific revision of a document.
func (db *Database) Retrieve(ctx context.Context, id, rev string) (Document, error) {
	return db.OpenDoc(ctx, id, &Options{Rev: rev})
}

// OpenDocs fetches the rows of _all_docs for the given ids only. Set
// IncludeDocs in opts to get the documents themselves.
func (db *Database) OpenDocs(ctx context.Context, ids []string, opts *Options) (*ViewResult, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	o.Keys = make([]interface{}, len(ids))
	for i, id := range ids {
		o.Keys[i] = id
	}
	return db.AllDocs(ctx, &o)
}

// SaveDoc stores a document. Documents without "_id" are created with a
// server assigned id, all others are written to their id, which needs the
// current "_rev" unless the document is new. An "_id" that is present must
// be a non-empty string.
//
// The returned document carries the new id and revision, doc itself is not
// modified. If the server reports ok=false, the returned document is an
// unchanged copy and the error has type ErrTypeNotOK.
func (db *Database) SaveDoc(ctx context.Context, doc Document, opts *Options) (Document, error) {
	if doc == nil {
		doc = Document{}
	}
	if id, ok := doc["_id"]; ok {
		if err := validation.Validate(id, validation.Required, validation.By(isString)); err != nil {
			return nil, fmt.Errorf("couch: document _id: %w", err)
		}
	}

	o := Options{}
	if opts != nil {
		o = *opts
	}
	o.Body = doc

	method, path := http.MethodPost, ""
	if !doc.IsNew() {
		method, path = http.MethodPut, docPath(doc.ID())
	}

	var result docResult
	if err := db.do(ctx, method, path, http.StatusCreated, &o, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return doc.Clone(), notOK(http.StatusCreated, method, db.uri+path, result)
	}
	return doc.withIDRev(result.ID, result.Rev), nil
}

// RemoveDoc deletes the revision of a document given by its "_id" and
// "_rev". The returned document has no "_rev" anymore, doc itself is not
// modified.
//
// If the server reports ok=false, the returned document still has its "_rev"
// cleared and the error has type ErrTypeNotOK.
func (db *Database) RemoveDoc(ctx context.Context, doc Document, opts *Options) (Document, error) {
	if err := validation.Validate(doc, validation.Required, validation.By(hasIDRev)); err != nil {
		return nil, fmt.Errorf("couch: remove document: %w", err)
	}

	o := Options{}
	if opts != nil {
		o = *opts
	}
	o.Rev = doc.Rev()

	var result docResult
	path := docPath(doc.ID())
	if err := db.do(ctx, http.MethodDelete, path, http.StatusOK, &o, &result); err != nil {
		return nil, err
	}
	removed := doc.withoutRev()
	if !result.OK {
		return removed, notOK(http.StatusOK, http.MethodDelete, db.uri+path, result)
	}
	return removed, nil
}

// View queries a view given as "design/view".
func (db *Database) View(ctx context.Context, ref string, opts *Options) (*ViewResult, error) {
	vr, err := ParseViewRef(ref)
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, vr, opts)
}

// Query queries a view, see http://docs.couchdb.org/en/latest/api/ddoc/views.html#db-design-design-doc-view-view-name
func (db *Database) Query(ctx context.Context, ref ViewRef, opts *Options) (*ViewResult, error) {
	result := &ViewResult{}
	if err := db.do(ctx, http.MethodGet, ref.path(), http.StatusOK, opts, result); err != nil {
		return nil, err
	}
	return result, nil
}

// HasView checks if a view really exists
func (db *Database) HasView(ctx context.Context, ref ViewRef) bool {
	err := db.do(ctx, http.MethodHead, ref.path(), http.StatusOK, nil, nil)
	return err == nil
}

// CouchDB result of a bulk insert, one per document
type bulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// SaveBulk stores many documents in one request. With allOrNothing the
// server either saves all documents or none, see
// http://docs.couchdb.org/en/latest/api/database/bulk-api.html#bulk-documents-transaction-semantics
//
// The returned slice has the saved documents in input order, documents that
// failed are returned unchanged. Failures are combined in the returned
// error.
func (db *Database) SaveBulk(ctx context.Context, docs []Document, allOrNothing bool) ([]Document, error) {
	body := map[string]interface{}{
		"docs":           docs,
		"all_or_nothing": allOrNothing,
	}
	var results []bulkResult
	if err := db.do(ctx, http.MethodPost, "_bulk_docs", http.StatusCreated, &Options{Body: body}, &results); err != nil {
		return nil, err
	}

	saved := make([]Document, len(docs))
	var result *multierror.Error
	for i, doc := range docs {
		if i >= len(results) {
			saved[i] = doc.Clone()
			result = multierror.Append(result, fmt.Errorf("couch: no bulk result for document %d", i))
			continue
		}
		r := results[i]
		if r.Error != "" || (!r.OK && r.Rev == "") {
			saved[i] = doc.Clone()
			result = multierror.Append(result, &Error{
				StatusCode: http.StatusCreated,
				Method:     http.MethodPost,
				Path:       db.uri + "_bulk_docs",
				Type:       r.Error,
				Reason:     fmt.Sprintf("document %q: %s", r.ID, r.Reason),
			})
			continue
		}
		saved[i] = doc.withIDRev(r.ID, r.Rev)
	}
	return saved, result.ErrorOrNil()
}

// docPath escapes a document id for use in a path. The "_design/" prefix of
// design documents stays as is.
func docPath(id string) string {
	const design = "_design/"
	if strings.HasPrefix(id, design) {
		return design + escapeComponent(strings.TrimPrefix(id, design))
	}
	return escapeComponent(id)
}

func notOK(status int, method, path string, r docResult) *Error {
	typ := r.Error
	if typ == "" {
		typ = ErrTypeNotOK
	}
	body, _ := json.Marshal(r)
	return &Error{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Type:       typ,
		Reason:     r.Reason,
		Body:       body,
	}
}

func isString(value interface{}) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("must be a string")
	}
	return nil
}

// hasIDRev rejects documents that can't be addressed for update or delete.
func hasIDRev(value interface{}) error {
	doc, _ := value.(Document)
	if doc.ID() == "" {
		return fmt.Errorf("document has no _id")
	}
	if doc.Rev() == "" {
		return fmt.Errorf("document %q has no _rev", doc.ID())
	}
	return nil
}
