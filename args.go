package nanohttp

import (
	"net/url"
	"strings"
)

// Params maps a parameter name to its values in arrival order.
//
// Query string, urlencoded body and multipart form fields all end up here.
type Params map[string][]string

// Add appends value to the values of name.
func (p Params) Add(name, value string) {
	p[name] = append(p[name], value)
}

// Get returns the first value of name, or "".
func (p Params) Get(name string) string {
	vs := p[name]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values of name.
func (p Params) Values(name string) []string {
	return p[name]
}

// Has reports whether name was present, with or without a value.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// decodeParams parses an "a=1&a=2&b" style string into dst.
//
// Keys and values are percent-decoded with '+' meaning space, keys are
// trimmed, and a key without '=' is stored with an empty value.
func decodeParams(dst Params, s string) {
	for s != "" {
		var pair string
		pair, s, _ = strings.Cut(s, "&")
		if pair == "" {
			continue
		}
		key, value, hasValue := strings.Cut(pair, "=")
		key = strings.TrimSpace(decodePercent(key))
		if key == "" {
			continue
		}
		if !hasValue {
			dst.Add(key, "")
			continue
		}
		dst.Add(key, decodePercent(value))
	}
}

// decodePercent decodes a query component. Malformed escapes leave the input
// unchanged.
func decodePercent(s string) string {
	if strings.IndexByte(s, '%') < 0 && strings.IndexByte(s, '+') < 0 {
		return s
	}
	d, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return d
}

// decodePath percent-decodes a request path. '+' is kept literally.
func decodePath(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	d, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return d
}
