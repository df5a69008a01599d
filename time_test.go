package nanohttp

import (
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
)

func TestAbsoluteToUTC(t *testing.T) {
	t.Parallel()

	c := absoluteToUTC(absoluteNano())
	diff := c.Sub(time.Now().UTC())
	if diff > 10*time.Millisecond || diff < -10*time.Millisecond {
		t.Fatalf("absolute clock drifted by %s", diff)
	}
}

func TestFormatHTTPDate(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+8", 8*60*60)
	d := time.Date(2024, time.October, 20, 9, 33, 56, 0, loc)
	assert.Eq(t, "Sun, 20 Oct 2024 01:33:56 GMT", formatHTTPDate(d))
}

func TestClientConnTimes(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-10 * time.Millisecond)
	c := newClientConn(1, nil, nil)
	assert.True(t, c.CreatedAt().After(before))
	assert.False(t, c.LastActive().Before(c.CreatedAt()))
	assert.Eq(t, StateAccepted, c.State())
}
