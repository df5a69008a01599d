package nanohttp

import "time"

// StatBoard receives counters and timings from the engine. Implementations
// must be safe for concurrent use.
type StatBoard interface {
	Count(key string, delta int64)
	Time(key string, d time.Duration)
}

// Keys reported to the StatBoard.
const (
	StatConnAccepted    = "conn.accepted"
	StatConnDenied      = "conn.denied"
	StatConnRateLimited = "conn.rate_limited"
	StatConnRejected    = "conn.rejected"
	StatRequests        = "requests"
	StatRequestErrors   = "request.errors"
	StatResponderPanics = "responder.panics"
	// StatResponses is suffixed with ".<status code>".
	StatResponses   = "responses"
	StatRequestTime = "request.time"
)

// NopStatBoard discards everything.
type NopStatBoard struct{}

func (NopStatBoard) Count(string, int64)         {}
func (NopStatBoard) Time(string, time.Duration) {}
