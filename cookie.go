package nanohttp

import (
	"strings"
	"time"
)

// Cookie is a single Set-Cookie line.
type Cookie struct {
	Name  string
	Value string
	// Expires is an RFC 1123 GMT date. Empty means a session cookie.
	Expires string
}

// NewCookie returns a cookie expiring days from now. Negative days yield an
// expiry in the past, which makes the client drop the cookie.
func NewCookie(name, value string, days int) *Cookie {
	return &Cookie{
		Name:    name,
		Value:   value,
		Expires: cookieExpires(time.Now(), days),
	}
}

func cookieExpires(now time.Time, days int) string {
	return formatHTTPDate(now.AddDate(0, 0, days))
}

// String renders the cookie as "name=value; expires=<date>".
func (c *Cookie) String() string {
	if c.Expires == "" {
		return c.Name + "=" + c.Value
	}
	return c.Name + "=" + c.Value + "; expires=" + c.Expires
}

const cookieDeletedValue = "-delete-"

// CookieJar exposes the cookies a client sent and queues the cookies the
// response should set.
type CookieJar struct {
	received map[string]string
	names    []string
	queue    []*Cookie
}

func newCookieJar(h *Header) *CookieJar {
	j := &CookieJar{received: make(map[string]string)}
	for _, line := range h.Values("cookie") {
		for _, pair := range strings.Split(line, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || name == "" {
				continue
			}
			if _, seen := j.received[name]; !seen {
				j.names = append(j.names, name)
			}
			j.received[name] = value
		}
	}
	return j
}

// Get returns the value of the named request cookie, or "".
func (j *CookieJar) Get(name string) string {
	return j.received[name]
}

// Names returns the request cookie names in the order they were received.
func (j *CookieJar) Names() []string {
	return j.names
}

// Set queues a cookie expiring days from now.
func (j *CookieJar) Set(name, value string, days int) {
	j.queue = append(j.queue, NewCookie(name, value, days))
}

// SetCookie queues c as is.
func (j *CookieJar) SetCookie(c *Cookie) {
	j.queue = append(j.queue, c)
}

// Delete queues an already expired cookie so the client drops name.
func (j *CookieJar) Delete(name string) {
	j.Set(name, cookieDeletedValue, -30)
}

// unloadQueue adds one Set-Cookie header per queued cookie to resp.
func (j *CookieJar) unloadQueue(resp *Response) {
	for _, c := range j.queue {
		resp.Header.Add("Set-Cookie", c.String())
	}
	j.queue = j.queue[:0]
}
