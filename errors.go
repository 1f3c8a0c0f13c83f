package couch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTypeNotOK is the error type used when the server answers with a success
// status but reports ok=false in the body.
const ErrTypeNotOK = "not_ok"

// ErrMalformedResponse is wrapped by a TransportError when a response body
// can't be parsed as JSON.
var ErrMalformedResponse = errors.New("couch: response is not valid JSON")

// Error is a CouchDB error description. It is returned whenever the server
// answered, but not with the status an operation expects.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Type       string
	Reason     string

	// Body is the unmodified response body.
	Body json.RawMessage
}

func (e *Error) Error() string {
	return "couchdb: " + e.Type + " (" + e.Reason + ")"
}

// newError builds an Error from a response. Bodies that don't carry an error
// description still produce an Error, typed by the status code.
func newError(status int, method, path string, body json.RawMessage) *Error {
	var desc struct {
		Type   string `json:"error"`
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(body, &desc)
	e := &Error{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Type:       desc.Type,
		Reason:     desc.Reason,
		Body:       body,
	}
	if e.Type == "" {
		e.Type = fmt.Sprintf("status_%d", status)
	}
	return e
}

// TransportError reports that a request did not produce a usable response:
// the server could not be reached, the connection broke, or the body
// wasn't JSON.
type TransportError struct {
	Op     string
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("couch: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("couch: %s %s %s: %v", e.Op, e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// If an error originated from CouchDB, this convenience function
// returns its shortform error type (e.g. bad_request). If the error
// is from a different source, the function will return an empty string.
func ErrorType(err error) string {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Type
	}
	return ""
}

// StatusCode returns the HTTP status of a CouchDB error, or 0 if err didn't
// come from the server.
func StatusCode(err error) int {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.StatusCode
	}
	return 0
}

// IsTransport reports whether err means the server could not be reached or
// returned something unreadable, as opposed to the server saying no.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
