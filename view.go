package couch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidViewRef is returned for view references that are not of the
// form "design/view".
var ErrInvalidViewRef = errors.New("couch: view reference must be \"design/view\"")

// ViewRef names a view of a design document.
type ViewRef struct {
	Design string
	View   string
}

// ParseViewRef splits "design/view" into its two parts. Anything other than
// exactly two non-empty segments is rejected.
func ParseViewRef(ref string) (ViewRef, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ViewRef{}, fmt.Errorf("%w, got %q", ErrInvalidViewRef, ref)
	}
	return ViewRef{Design: parts[0], View: parts[1]}, nil
}

func (r ViewRef) String() string {
	return r.Design + "/" + r.View
}

// path relative to the database
func (r ViewRef) path() string {
	return "_design/" + escapeComponent(r.Design) + "/_view/" + escapeComponent(r.View)
}

// design is the body of a design document holding JavaScript views.
// Only views are supported.
type design struct {
	Doc
	Views map[string]view `json:"views"`
}

// view is a map function with an optional reduce function, both JavaScript
// source.
type view struct {
	Map    string `json:"map,omitempty"`
	Reduce string `json:"reduce,omitempty"`
}

// newDesign returns an empty design document with the id "_design/<name>".
func newDesign(name string) *design {
	d := &design{}
	d.ID = "_design/" + name
	d.Views = make(map[string]view)
	return d
}

// Container for ViewResultRows
type ViewResult struct {
	TotalRows uint64          `json:"total_rows"`
	Offset    uint64          `json:"offset"`
	Rows      []ViewResultRow `json:"rows"`
}

// A single view result. Rows of _all_docs queried by keys that don't exist
// carry an Error instead of an ID.
type ViewResultRow struct {
	ID    string      `json:"id,omitempty"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
	Doc   Document    `json:"doc,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (r *ViewResultRow) ValueInt() int {
	num, _ := r.Value.(float64)
	return int(num)
}

// IDs returns the document ids of all rows that have one.
func (res *ViewResult) IDs() []string {
	ids := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if row.ID != "" {
			ids = append(ids, row.ID)
		}
	}
	return ids
}
