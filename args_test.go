package nanohttp

import (
	"net/url"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
	"pgregory.net/rapid"
)

func TestDecodeParams(t *testing.T) {
	t.Parallel()

	p := make(Params)
	decodeParams(p, "a=1&a=2&b")
	assert.Eq(t, []string{"1", "2"}, p.Values("a"))
	assert.True(t, p.Has("b"))
	assert.Eq(t, "", p.Get("b"))
	assert.Eq(t, []string{""}, p.Values("b"))
	assert.False(t, p.Has("c"))
	assert.Eq(t, "", p.Get("c"))
}

func TestDecodeParamsEscapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		name  string
		want  []string
	}{
		{"q=hello+world", "q", []string{"hello world"}},
		{"q=caf%C3%A9", "q", []string{"café"}},
		{"%20k%20=v", "k", []string{"v"}},
		{"q=100%", "q", []string{"100%"}},
		{"&&q=1&&", "q", []string{"1"}},
		{"q=a=b", "q", []string{"a=b"}},
		{"q=", "q", []string{""}},
	}
	for _, tt := range tests {
		p := make(Params)
		decodeParams(p, tt.query)
		assert.Eq(t, tt.want, p.Values(tt.name), tt.query)
	}

	p := make(Params)
	decodeParams(p, "=nokey&  =blank")
	assert.Len(t, p, 0)
}

func TestDecodeParamsRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringMatching(`[a-z][a-z0-9_]{0,8}`).Draw(t, "key")
		values := rapid.SliceOfN(rapid.String(), 1, 5).Draw(t, "values")

		q := url.Values{key: values}
		p := make(Params)
		decodeParams(p, q.Encode())
		got := p.Values(key)
		if len(got) != len(values) {
			t.Fatalf("got %d values, want %d", len(got), len(values))
		}
		for i := range values {
			if got[i] != values[i] {
				t.Fatalf("value %d: got %q, want %q", i, got[i], values[i])
			}
		}
	})
}

func TestDecodePath(t *testing.T) {
	t.Parallel()

	assert.Eq(t, "/a b/c+d", decodePath("/a%20b/c+d"))
	assert.Eq(t, "/plain", decodePath("/plain"))
	assert.Eq(t, "/bad%zz", decodePath("/bad%zz"))
}
