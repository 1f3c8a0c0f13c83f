package fakecouch

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// MapFunc is the Go version of a view's map function. Documents with
// conflicts carry "_conflicts" like in CouchDB.
type MapFunc func(doc map[string]interface{}, emit func(key, value interface{}))

type viewKey struct {
	db, design, view string
}

type viewDef struct {
	mapFn       MapFunc
	reduceCount bool
}

// DefineView registers a view so it can be queried at
// /<db>/_design/<design>/_view/<view>. With reduceCount the view has the
// built-in _count reduce.
func (s *Server) DefineView(db, design, view string, mapFn MapFunc, reduceCount bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[viewKey{db, design, view}] = &viewDef{mapFn: mapFn, reduceCount: reduceCount}
}

// lookupView finds a registered view, or one declared in a stored design
// document. Declared views without a registered function emit nothing.
func (s *Server) lookupView(db *database, design, view string) (*viewDef, bool) {
	if def, ok := s.views[viewKey{db.name, design, view}]; ok {
		return def, true
	}
	ddoc, err := db.get("_design/"+design, "")
	if err != nil {
		return nil, false
	}
	views, _ := ddoc["views"].(map[string]interface{})
	v, ok := views[view].(map[string]interface{})
	if !ok {
		return nil, false
	}
	reduce, _ := v["reduce"].(string)
	return &viewDef{reduceCount: reduce == "_count"}, true
}

type row struct {
	ID    string      `json:"id,omitempty"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
	Doc   interface{} `json:"doc,omitempty"`
	Error string      `json:"error,omitempty"`
}

// rowQuery are the row selection parameters shared by views and _all_docs.
type rowQuery struct {
	key          interface{}
	startKey     interface{}
	endKey       interface{}
	hasKey       bool
	hasStart     bool
	hasEnd       bool
	keys         []interface{}
	hasKeys      bool
	descending   bool
	inclusiveEnd bool
	includeDocs  bool
	group        bool
	reduce       bool
	reduceSet    bool
	limit        int
	skip         int
}

func parseRowQuery(q url.Values, body map[string]interface{}) (*rowQuery, error) {
	rq := &rowQuery{inclusiveEnd: true, limit: -1}
	var err error
	parseJSON := func(name string, dst *interface{}, has *bool) {
		if err != nil || !q.Has(name) {
			return
		}
		*has = true
		err = json.Unmarshal([]byte(q.Get(name)), dst)
	}
	parseJSON("key", &rq.key, &rq.hasKey)
	parseJSON("startkey", &rq.startKey, &rq.hasStart)
	parseJSON("endkey", &rq.endKey, &rq.hasEnd)
	if err != nil {
		return nil, err
	}
	if keys, ok := body["keys"].([]interface{}); ok {
		rq.keys, rq.hasKeys = keys, true
	}
	rq.descending = q.Get("descending") == "true"
	rq.includeDocs = q.Get("include_docs") == "true"
	rq.group = q.Get("group") == "true"
	if q.Get("inclusive_end") == "false" {
		rq.inclusiveEnd = false
	}
	if q.Has("reduce") {
		rq.reduceSet = true
		rq.reduce = q.Get("reduce") == "true"
	}
	if q.Has("limit") {
		if rq.limit, err = strconv.Atoi(q.Get("limit")); err != nil {
			return nil, err
		}
	}
	if q.Has("skip") {
		if rq.skip, err = strconv.Atoi(q.Get("skip")); err != nil {
			return nil, err
		}
	}
	return rq, nil
}

// selectRows orders and filters rows. Rows must be sorted ascending.
func (rq *rowQuery) selectRows(rows []row) []row {
	if rq.hasKeys {
		var selected []row
		for _, k := range rq.keys {
			for _, r := range rows {
				if collate(r.Key, k) == 0 {
					selected = append(selected, r)
				}
			}
		}
		rows = selected
	} else if rq.descending {
		reversed := make([]row, len(rows))
		for i, r := range rows {
			reversed[len(rows)-1-i] = r
		}
		rows = reversed
	}

	dir := 1
	if rq.descending {
		dir = -1
	}
	var selected []row
	for _, r := range rows {
		if rq.hasKey && collate(r.Key, rq.key) != 0 {
			continue
		}
		if rq.hasStart && dir*collate(r.Key, rq.startKey) < 0 {
			continue
		}
		if rq.hasEnd {
			c := dir * collate(r.Key, rq.endKey)
			if c > 0 || (c == 0 && !rq.inclusiveEnd) {
				continue
			}
		}
		selected = append(selected, r)
	}
	return selected
}

func (rq *rowQuery) page(rows []row) []row {
	if rq.skip > 0 {
		if rq.skip >= len(rows) {
			return []row{}
		}
		rows = rows[rq.skip:]
	}
	if rq.limit >= 0 && rq.limit < len(rows) {
		rows = rows[:rq.limit]
	}
	return rows
}

// evalView runs a view over the live documents of db.
func evalView(db *database, def *viewDef) []row {
	var rows []row
	if def.mapFn == nil {
		return rows
	}
	for _, id := range db.ids() {
		if strings.HasPrefix(id, "_design/") {
			continue
		}
		e := db.docs[id]
		d := copyDoc(e.winner())
		if len(e.leaves) > 1 {
			d["_conflicts"] = e.conflicts()
		}
		def.mapFn(d, func(key, value interface{}) {
			rows = append(rows, row{ID: id, Key: normalize(key), Value: normalize(value)})
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := collate(rows[i].Key, rows[j].Key); c != 0 {
			return c < 0
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// countRows is the _count reduce, grouped by key if asked to.
func countRows(rows []row, group bool) []row {
	if !group {
		if len(rows) == 0 {
			return []row{}
		}
		return []row{{Key: nil, Value: float64(len(rows))}}
	}
	var out []row
	for _, r := range rows {
		if n := len(out); n > 0 && collate(out[n-1].Key, r.Key) == 0 {
			out[n-1].Value = out[n-1].Value.(float64) + 1
			continue
		}
		out = append(out, row{Key: r.Key, Value: float64(1)})
	}
	return out
}

// normalize turns Go values into what they'd be after a JSON round trip,
// so emitted keys compare like the ones decoded from queries.
func normalize(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	_ = json.Unmarshal(b, &out)
	return out
}

// collate compares JSON values in CouchDB order:
// null, false, true, numbers, strings, arrays, objects.
func collate(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	case []interface{}:
		bv := b.([]interface{})
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := collate(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return len(av) - len(bv)
	case map[string]interface{}:
		ab, _ := json.Marshal(av)
		bb, _ := json.Marshal(b)
		return strings.Compare(string(ab), string(bb))
	}
	return 0
}

func rank(v interface{}) int {
	switch v := v.(type) {
	case nil:
		return 0
	case bool:
		if v {
			return 2
		}
		return 1
	case float64:
		return 3
	case string:
		return 4
	case []interface{}:
		return 5
	default:
		return 6
	}
}
