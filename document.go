package couch

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Document is a fully dynamic JSON document. The protocol reserves two
// fields: "_id", the document id, and "_rev", the revision token required
// to update or delete it.
//
// Operations never modify a Document they are given, they return a new one.
type Document map[string]interface{}

// Doc defines the basic struct of a CouchDB document, add it as an anonymous
// field to your own struct and use Document.Decode and NewDocument to convert.
//
// Example:
//
//	type MyDocStruct struct {
//	  couch.Doc
//	  Title string `json:"title"`
//	}
type Doc struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`
}

// NewDocument converts any value that marshals to a JSON object into a
// Document.
func NewDocument(v interface{}) (Document, error) {
	if doc, ok := v.(Document); ok {
		return doc.Clone(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("couch: encoding document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("couch: value is not a JSON object: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// ID returns "_id" or an empty string.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns "_rev" or an empty string.
func (d Document) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// IDRev returns both reserved fields.
func (d Document) IDRev() (id string, rev string) {
	return d.ID(), d.Rev()
}

// IsNew reports whether the document has never been persisted, i.e. has no id.
func (d Document) IsNew() bool {
	_, ok := d["_id"]
	return !ok
}

// Clone returns a shallow copy. Nested values are shared.
func (d Document) Clone() Document {
	c := make(Document, len(d)+2)
	for k, v := range d {
		c[k] = v
	}
	return c
}

func (d Document) withIDRev(id, rev string) Document {
	c := d.Clone()
	c["_id"] = id
	c["_rev"] = rev
	return c
}

func (d Document) withoutRev() Document {
	c := d.Clone()
	delete(c, "_rev")
	return c
}

// Decode writes the document into v, usually a pointer to a struct. Field
// names follow the json tags of v; numbers are converted to the field types.
func (d Document) Decode(v interface{}) error {
	return decode(d, v)
}

func decode(input, output interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("couch: decoding document: %w", err)
	}
	return nil
}
