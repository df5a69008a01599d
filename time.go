package nanohttp

import (
	"time"

	"github.com/newacorn/goutils/unsafefn"
)

// httpTimeFormat is the GMT layout used for Date and cookie expires values.
const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var (
	startTimeUTC      = time.Now().UTC()
	startAbsoluteNano = unsafefn.NanoTime()
)

// absoluteNano returns a monotonic timestamp. It is cheaper than time.Now
// and is used for connection bookkeeping only.
func absoluteNano() int64 {
	return unsafefn.NanoTime()
}

func absoluteToUTC(n int64) time.Time {
	return startTimeUTC.Add(time.Duration(n - startAbsoluteNano))
}

// formatHTTPDate renders t in the fixed GMT layout used by HTTP headers.
func formatHTTPDate(t time.Time) string {
	return t.UTC().Format(httpTimeFormat)
}
