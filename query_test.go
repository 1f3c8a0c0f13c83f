package couch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts *Options
		want string
	}{
		{"nil", nil, ""},
		{"empty", &Options{}, ""},
		{"body and keys only", &Options{Body: map[string]interface{}{}, Keys: []interface{}{"a"}}, ""},
		{"json key", &Options{Key: "x"}, "?key=%22x%22"},
		{"numeric key", &Options{Key: 42}, "?key=42"},
		{"null key via extra", (&Options{}).Set("key", nil), "?key=null"},
		{"array range", &Options{StartKey: []interface{}{"a", 1}, EndKey: []interface{}{"a", map[string]interface{}{}}}, "?startkey=%5B%22a%22%2C1%5D&endkey=%5B%22a%22%2C%7B%7D%5D"},
		{"count", &Options{Count: 10}, "?count=10"},
		{"rev", &Options{Rev: "1-abc"}, "?rev=1-abc"},
		{"paging", &Options{Descending: true, Limit: 5, Skip: 2}, "?descending=true&limit=5&skip=2"},
		{"reduce false", &Options{Reduce: Bool(false), Group: true}, "?group=true&reduce=false"},
		{"inclusive end", &Options{EndKey: "z", InclusiveEnd: Bool(false)}, "?endkey=%22z%22&inclusive_end=false"},
		{"docid bounds", &Options{StartKey: "a", StartKeyDocID: "doc 1", EndKeyDocID: "doc2"}, "?startkey=%22a%22&startkey_docid=doc%201&endkey_docid=doc2"},
		{"stale and open revs", &Options{Stale: "ok", OpenRevs: "all"}, "?stale=ok&open_revs=all"},
		{"extra in order", (&Options{}).Set("z", 1).Set("a", "b c").Set("flag", true), "?z=1&a=b%20c&flag=true"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.opts.Encode())
		})
	}
}

func TestEncodeSkipsReservedParams(t *testing.T) {
	t.Parallel()

	opts := &Options{Key: "x", Body: map[string]interface{}{}}
	opts.Set("success", func() {}).
		Set("error", func() {}).
		Set("request", "r").
		Set("body", "b").
		Set("keys", "k").
		Set("extra", "y")

	q, err := opts.EncodeQuery()
	require.NoError(t, err)
	assert.Contains(t, q, "extra=y")
	assert.Contains(t, q, "key=%22x%22")
	assert.NotContains(t, q, "success")
	assert.NotContains(t, q, "body")
	assert.NotContains(t, q, "error")
	assert.NotContains(t, q, "request")
	assert.Equal(t, "?key=%22x%22&extra=y", q)
}

func TestEncodeQueryError(t *testing.T) {
	t.Parallel()

	opts := &Options{Key: make(chan int), Limit: 1}
	_, err := opts.EncodeQuery()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key")

	assert.Equal(t, "", opts.Encode())
}

func TestEscapeComponent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a%20b", escapeComponent("a b"))
	assert.Equal(t, "a%2Fb", escapeComponent("a/b"))
	assert.Equal(t, "%22x%22", escapeComponent(`"x"`))
	assert.Equal(t, "a%2Bb", escapeComponent("a+b"))
	assert.Equal(t, "%24(x)", escapeComponent("$(x)"))
	assert.Equal(t, "it's%20(a)*!", escapeComponent("it's (a)*!"))
	assert.Equal(t, "-_.~", escapeComponent("-_.~"))
	assert.Equal(t, "%25%26%3D%3F%23", escapeComponent("%&=?#"))
}

func TestNamedFieldsWinOverExtra(t *testing.T) {
	t.Parallel()

	opts := (&Options{Key: "x", Rev: "2-b"}).
		Set("key", "y").
		Set("rev", "1-a").
		Set("extra", 1)
	assert.Equal(t, "?key=%22x%22&rev=2-b&extra=1", opts.Encode())

	opts = (&Options{}).Set("key", "y")
	assert.Equal(t, "?key=%22y%22", opts.Encode())
}
