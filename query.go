package couch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Options are the per-request options of an operation. Body and Keys are
// request content, every other field becomes a query parameter. Unset fields
// are not sent.
//
// See http://docs.couchdb.org/en/latest/api/ddoc/views.html for the meaning
// of the view parameters.
type Options struct {
	// Body is sent as JSON. A GET request carrying a body is sent as POST.
	Body interface{}

	// Keys restricts a view or _all_docs to the given keys. It is always
	// sent in the body as {"keys": [...]}.
	Keys []interface{}

	// Key, StartKey and EndKey are JSON-encoded before they go into the query.
	Key      interface{}
	StartKey interface{}
	EndKey   interface{}

	StartKeyDocID string
	EndKeyDocID   string
	Count         int
	Rev           string
	Descending    bool
	Limit         int
	Skip          int
	IncludeDocs   bool
	Group         bool
	GroupLevel    int
	Reduce        *bool
	InclusiveEnd  *bool
	Stale         string
	OpenRevs      string

	// Extra holds server specific parameters in the order they were set.
	// A field above wins over an Extra parameter of the same name.
	Extra []Param
}

// Param is a free-form query parameter.
type Param struct {
	Name  string
	Value interface{}
}

// Parameters that are never encoded into a query string.
var reservedParams = map[string]bool{
	"request": true,
	"error":   true,
	"success": true,
	"body":    true,
	"keys":    true,
}

// Parameters whose values travel as JSON.
var jsonParams = map[string]bool{
	"key":      true,
	"startkey": true,
	"endkey":   true,
}

// Set appends a free-form query parameter and returns the options for chaining.
func (o *Options) Set(name string, value interface{}) *Options {
	o.Extra = append(o.Extra, Param{Name: name, Value: value})
	return o
}

// Bool is a helper for the optional boolean parameters.
func Bool(b bool) *bool {
	return &b
}

// Encode returns the query string for the options including the leading '?',
// or an empty string if there is nothing to send. Values of key, startkey and
// endkey that can't be JSON-encoded are dropped, use EncodeQuery to see
// the error.
func (o *Options) Encode() string {
	q, _ := o.EncodeQuery()
	return q
}

// EncodeQuery is Encode with error reporting.
func (o *Options) EncodeQuery() (string, error) {
	if o == nil {
		return "", nil
	}
	params, err := o.params()
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return "", nil
	}
	pairs := make([]string, 0, len(params))
	for _, p := range params {
		pairs = append(pairs, escapeComponent(p.Name)+"="+escapeComponent(p.Value.(string)))
	}
	return "?" + strings.Join(pairs, "&"), nil
}

// params lists the query parameters with their values already rendered.
func (o *Options) params() ([]Param, error) {
	var params []Param
	var firstErr error
	named := make(map[string]bool)
	add := func(name string, value interface{}) {
		named[name] = true
		s, err := renderParam(name, value)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		params = append(params, Param{Name: name, Value: s})
	}

	if o.Key != nil {
		add("key", o.Key)
	}
	if o.StartKey != nil {
		add("startkey", o.StartKey)
	}
	if o.StartKeyDocID != "" {
		add("startkey_docid", o.StartKeyDocID)
	}
	if o.EndKey != nil {
		add("endkey", o.EndKey)
	}
	if o.EndKeyDocID != "" {
		add("endkey_docid", o.EndKeyDocID)
	}
	if o.Count > 0 {
		add("count", o.Count)
	}
	if o.Rev != "" {
		add("rev", o.Rev)
	}
	if o.Descending {
		add("descending", true)
	}
	if o.Limit > 0 {
		add("limit", o.Limit)
	}
	if o.Skip > 0 {
		add("skip", o.Skip)
	}
	if o.IncludeDocs {
		add("include_docs", true)
	}
	if o.Group {
		add("group", true)
	}
	if o.GroupLevel > 0 {
		add("group_level", o.GroupLevel)
	}
	if o.Reduce != nil {
		add("reduce", *o.Reduce)
	}
	if o.InclusiveEnd != nil {
		add("inclusive_end", *o.InclusiveEnd)
	}
	if o.Stale != "" {
		add("stale", o.Stale)
	}
	if o.OpenRevs != "" {
		add("open_revs", o.OpenRevs)
	}
	for _, p := range o.Extra {
		if reservedParams[p.Name] || named[p.Name] {
			continue
		}
		s, err := renderParam(p.Name, p.Value)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		params = append(params, Param{Name: p.Name, Value: s})
	}
	return params, firstErr
}

func renderParam(name string, value interface{}) (string, error) {
	if jsonParams[name] {
		b, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("couch: encoding %s: %w", name, err)
		}
		return string(b), nil
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "null", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Characters encodeURIComponent leaves alone but url.QueryEscape doesn't.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeComponent percent-encodes s for use as a query name, query value or
// path segment, the way encodeURIComponent does. Spaces become %20, not '+'.
func escapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
