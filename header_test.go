package nanohttp

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	t.Parallel()

	var h Header
	h.Add("Content-Type", "text/plain")
	h.Add("X-Multi", "1")
	h.Add("x-multi", "2")

	assert.Eq(t, "text/plain", h.Get("content-type"))
	assert.Eq(t, "text/plain", h.Get("CONTENT-TYPE"))
	assert.Eq(t, []string{"1", "2"}, h.Values("X-MULTI"))
	assert.True(t, h.Has("x-Multi"))
	assert.Eq(t, 3, h.Len())

	var names []string
	h.VisitAll(func(name, _ string) {
		names = append(names, name)
	})
	assert.Eq(t, []string{"Content-Type", "X-Multi", "x-multi"}, names)

	h.Set("X-MULTI", "3")
	assert.Eq(t, []string{"3"}, h.Values("x-multi"))
	assert.Eq(t, "text/plain", h.Get("content-type"))

	h.Del("content-type")
	assert.False(t, h.Has("Content-Type"))
	assert.Eq(t, 1, h.Len())

	h.Reset()
	assert.Eq(t, 0, h.Len())
	assert.Eq(t, "", h.Get("x-multi"))
}

func TestHeaderZeroValue(t *testing.T) {
	t.Parallel()

	var h Header
	assert.Eq(t, "", h.Get("a"))
	assert.Empty(t, h.Values("a"))
	assert.False(t, h.Has("a"))
	h.Del("a")
	assert.False(t, h.hasToken("connection", "close"))
}

func TestHeaderHasToken(t *testing.T) {
	t.Parallel()

	var h Header
	h.Add("Connection", "Keep-Alive, Upgrade")
	assert.True(t, h.hasToken("connection", "keep-alive"))
	assert.True(t, h.hasToken("connection", "upgrade"))
	assert.False(t, h.hasToken("connection", "close"))
}

func TestReadHead(t *testing.T) {
	t.Parallel()

	raw := "\r\n\r\nGET / HTTP/1.1\r\nHost: a\r\n\r\nbody"
	br := bufio.NewReader(strings.NewReader(raw))
	head, err := readHead(br)
	assert.NoErr(t, err)
	assert.Eq(t, "GET / HTTP/1.1\r\nHost: a\r\n", string(head))
	rest, err := io.ReadAll(br)
	assert.NoErr(t, err)
	assert.Eq(t, "body", string(rest))
}

func TestReadHeadBareLF(t *testing.T) {
	t.Parallel()

	br := bufio.NewReader(strings.NewReader("GET / HTTP/1.0\nHost: a\n\nX"))
	head, err := readHead(br)
	assert.NoErr(t, err)
	line, rest := nextLine(head)
	assert.Eq(t, "GET / HTTP/1.0", string(line))
	assert.Eq(t, "Host: a\n", string(rest))
}

// oneByteReader forces readHead through its incremental path.
type oneByteReader struct {
	r io.Reader
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return r.r.Read(p)
}

func TestReadHeadSlowClient(t *testing.T) {
	t.Parallel()

	raw := "POST /x HTTP/1.1\r\nContent-Length: 0\r\n\r\n"
	br := bufio.NewReader(&oneByteReader{r: strings.NewReader(raw)})
	head, err := readHead(br)
	assert.NoErr(t, err)
	assert.Eq(t, raw[:len(raw)-2], string(head))
}

func TestReadHeadErrors(t *testing.T) {
	t.Parallel()

	_, err := readHead(bufio.NewReader(strings.NewReader("")))
	assert.True(t, errors.Is(err, io.EOF))

	_, err = readHead(bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost")))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	huge := "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 100) + "\r\n\r\n"
	_, err = readHead(bufio.NewReaderSize(strings.NewReader(huge), 64))
	assert.True(t, errors.Is(err, ErrHeaderTooLarge))
}

func TestParseHeaderLines(t *testing.T) {
	t.Parallel()

	var h Header
	parseHeaderLines(&h, []byte("Host: example.com\r\n"+
		"X-Folded: first\r\n"+
		"\tsecond\r\n"+
		"garbage line\r\n"+
		"Empty:\r\n"+
		"Accept:  text/html  \r\n"))
	assert.Eq(t, "example.com", h.Get("host"))
	assert.Eq(t, "first second", h.Get("x-folded"))
	assert.True(t, h.Has("empty"))
	assert.Eq(t, "", h.Get("empty"))
	assert.Eq(t, "text/html", h.Get("accept"))
	assert.Eq(t, 4, h.Len())
}
