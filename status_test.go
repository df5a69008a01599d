package nanohttp

import (
	"testing"

	"github.com/gookit/goutil/testutil/assert"
)

func TestLookupStatus(t *testing.T) {
	t.Parallel()

	s, ok := LookupStatus(429)
	assert.True(t, ok)
	assert.Eq(t, StatusTooManyRequests, s)
	assert.Eq(t, "Too Many Requests", s.Reason())
	assert.Eq(t, "429 Too Many Requests", s.Description())
	assert.Eq(t, 429, s.Code())

	for _, code := range []int{-1, 0, 99, 209, 299, 306, 418, 499, 512, 600, 1000} {
		_, ok = LookupStatus(code)
		assert.False(t, ok, code)
		assert.Eq(t, "", StatusMessage(code))
	}
	assert.Eq(t, "Unknown Status Code", Status(299).Reason())
}

func TestStatusTable(t *testing.T) {
	t.Parallel()

	known := []int{101, 226, 305, 307, 308, 417, 421, 426, 428, 429, 431, 451, 508, 510, 511}
	for code := 200; code <= 208; code++ {
		known = append(known, code)
	}
	for code := 500; code <= 507; code++ {
		known = append(known, code)
	}
	for _, code := range known {
		s, ok := LookupStatus(code)
		assert.True(t, ok, code)
		assert.NotEmpty(t, s.Reason())
	}
	assert.Eq(t, "Request Header Fields Too Large", StatusRequestHeaderFieldsTooLarge.Reason())
	assert.Eq(t, "Request Entity Too Large", StatusRequestEntityTooLarge.Reason())
}

func TestStatusBodyAllowed(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusSwitchingProtocols.bodyAllowed())
	assert.False(t, StatusNoContent.bodyAllowed())
	assert.False(t, StatusNotModified.bodyAllowed())
	assert.True(t, StatusOK.bodyAllowed())
	assert.True(t, StatusNotFound.bodyAllowed())
}

func TestLookupMethod(t *testing.T) {
	t.Parallel()

	m, ok := LookupMethod("propfind")
	assert.True(t, ok)
	assert.Eq(t, MethodPropfind, m)

	_, ok = LookupMethod("BREW")
	assert.False(t, ok)

	assert.True(t, MethodPost.hasBody())
	assert.True(t, MethodPut.hasBody())
	assert.False(t, MethodGet.hasBody())
	assert.False(t, MethodPatch.hasBody())
}
