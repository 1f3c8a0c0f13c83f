package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// request describes one interaction with the server. path is absolute and
// already escaped, the query is added from opts.
type request struct {
	method string
	path   string
	expect int
	opts   *Options
	host   string
}

// interactor issues requests. *Client is the only implementation outside of
// tests.
type interactor interface {
	interact(ctx context.Context, req *request) (json.RawMessage, error)
}

// normalizeMethod maps a verb to its canonical upper case form.
func normalizeMethod(verb string) string {
	m := strings.ToUpper(verb)
	if m == "DEL" {
		return http.MethodDelete
	}
	return m
}

// interact is the single choke point for all requests. It returns the raw
// JSON body if the response status is the expected one, an *Error if the
// server answered with anything else and a *TransportError if there was no
// usable answer.
func (c *Client) interact(ctx context.Context, r *request) (json.RawMessage, error) {
	method := normalizeMethod(r.method)
	host := r.host
	if host == "" {
		host = c.defaultHost
	}

	cn, err := c.conns.get(host)
	if err != nil {
		return nil, err
	}

	query, err := r.opts.EncodeQuery()
	if err != nil {
		return nil, err
	}
	path := r.path + query

	var body interface{}
	if r.opts != nil {
		body = r.opts.Body
		if r.opts.Keys != nil {
			body = map[string]interface{}{"keys": r.opts.Keys}
		}
	}

	var bodyReader io.Reader
	if body != nil {
		if method == http.MethodGet {
			method = http.MethodPost
		}
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("couch: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, cn.url(path), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("couch: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cn.authorize(req)

	debug := c.Debug()
	if debug {
		c.logger.Debug("couching", "method", method, "path", path, "host", cn.base.Host)
	}

	resp, err := cn.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "request", Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", Method: method, Path: path, Err: err}
	}

	if debug {
		c.logger.Debug("completed", "method", method, "path", path, "status", resp.StatusCode, "body", string(raw))
	}

	if method == http.MethodHead {
		if resp.StatusCode == r.expect {
			return nil, nil
		}
		return nil, newError(resp.StatusCode, method, path, nil)
	}

	if !json.Valid(raw) {
		return nil, &TransportError{Op: "decode", Method: method, Path: path, Err: ErrMalformedResponse}
	}

	if resp.StatusCode != r.expect {
		return nil, newError(resp.StatusCode, method, path, raw)
	}
	return raw, nil
}

// call runs a request and decodes the response into result, if given.
func call(ctx context.Context, ix interactor, r *request, result interface{}) error {
	raw, err := ix.interact(ctx, r)
	if err != nil {
		return err
	}
	if result == nil || raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &TransportError{Op: "decode", Method: normalizeMethod(r.method), Path: r.path, Err: err}
	}
	return nil
}
