package fileserver

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/newacorn/nanohttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func get(t *testing.T, r nanohttp.Responder, request string) (*http.Response, string) {
	t.Helper()
	srv := &nanohttp.Server{Responder: r}
	pipe := fasthttputil.NewPipeConns()
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeConn(pipe.Conn1())
	}()

	c := pipe.Conn2()
	_, err := c.Write([]byte(request))
	assert.NoErr(t, err)
	req := &http.Request{Method: http.MethodGet}
	if len(request) >= 4 && request[:4] == "HEAD" {
		req.Method = http.MethodHead
	}
	resp, err := http.ReadResponse(bufio.NewReader(c), req)
	assert.NoErr(t, err)
	body, err := io.ReadAll(resp.Body)
	assert.NoErr(t, err)
	assert.NoErr(t, c.Close())
	assert.NoErr(t, <-done)
	return resp, string(body)
}

func request(method, target string, headers ...string) string {
	s := method + " " + target + " HTTP/1.1\r\nHost: a\r\nConnection: close\r\n"
	for _, h := range headers {
		s += h + "\r\n"
	}
	return s + "\r\n"
}

var testFS = fstest.MapFS{
	"index.html":         {Data: []byte("<h1>home</h1>")},
	"css/site.css":       {Data: []byte("body{}")},
	"docs/a.txt":         {Data: []byte("0123456789")},
	"docs/b <tag>.txt":   {Data: []byte("b")},
	"docs/sub/readme.md": {Data: []byte("# readme")},
	"my docs/café/a.txt": {Data: []byte("a")},
}

func TestServeFile(t *testing.T) {
	t.Parallel()

	f := &FS{FS: testFS, IndexNames: []string{"index.html"}}
	resp, body := get(t, f, request("GET", "/css/site.css"))
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "text/css", resp.Header.Get("Content-Type"))
	assert.Eq(t, "body{}", body)
	assert.Eq(t, "", resp.Header.Get("Accept-Ranges"))

	resp, body = get(t, f, request("GET", "/"))
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "<h1>home</h1>", body)

	resp, body = get(t, f, request("HEAD", "/docs/a.txt"))
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, int64(10), resp.ContentLength)
	assert.Eq(t, "", body)
}

func TestServeFileEscapes(t *testing.T) {
	t.Parallel()

	f := &FS{FS: testFS}
	resp, body := get(t, f, request("GET", "/../../etc/passwd"))
	assert.Eq(t, http.StatusNotFound, resp.StatusCode)
	assert.Eq(t, "Error 404, file not found.", body)

	resp, _ = get(t, f, request("GET", "/docs/../css/site.css"))
	assert.Eq(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, f, request("GET", "/a%00b"))
	assert.Eq(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, f, request("POST", "/index.html"))
	assert.Eq(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeDirectory(t *testing.T) {
	t.Parallel()

	f := &FS{FS: testFS}
	resp, _ := get(t, f, request("GET", "/docs"))
	assert.Eq(t, http.StatusFound, resp.StatusCode)
	assert.Eq(t, "/docs/", resp.Header.Get("Location"))

	resp, _ = get(t, f, request("GET", "/docs/"))
	assert.Eq(t, http.StatusForbidden, resp.StatusCode)

	// the redirect target is escaped again.
	resp, _ = get(t, f, request("GET", "/my%20docs"))
	assert.Eq(t, http.StatusFound, resp.StatusCode)
	assert.Eq(t, "/my%20docs/", resp.Header.Get("Location"))

	resp, _ = get(t, f, request("GET", "/my%20docs/caf%C3%A9"))
	assert.Eq(t, http.StatusFound, resp.StatusCode)
	assert.Eq(t, "/my%20docs/caf%C3%A9/", resp.Header.Get("Location"))

	f = &FS{FS: testFS, GenerateIndexPages: true}
	resp, body := get(t, f, request("GET", "/docs/"))
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `<a href="/" class="dir">..</a>`)
	assert.Contains(t, body, `<a href="/docs/a.txt" class="file">a.txt</a>, file, 10 bytes`)
	assert.Contains(t, body, "b &lt;tag&gt;.txt")
	assert.Contains(t, body, `<a href="/docs/sub/" class="dir">sub</a>, dir`)
}

func TestServeNotFound(t *testing.T) {
	t.Parallel()

	f := &FS{
		FS: testFS,
		PathNotFound: nanohttp.ResponderFunc(func(s *nanohttp.Session) (*nanohttp.Response, error) {
			return nanohttp.NewTextResponse(nanohttp.StatusNotFound, "", "custom "+s.URI()), nil
		}),
	}
	resp, body := get(t, f, request("GET", "/missing.txt"))
	assert.Eq(t, http.StatusNotFound, resp.StatusCode)
	assert.Eq(t, "custom /missing.txt", body)
}

func TestServeByteRange(t *testing.T) {
	t.Parallel()

	f := &FS{FS: testFS, AcceptByteRange: true}
	resp, body := get(t, f, request("GET", "/docs/a.txt", "Range: bytes=2-5"))
	assert.Eq(t, http.StatusPartialContent, resp.StatusCode)
	assert.Eq(t, "bytes 2-5/10", resp.Header.Get("Content-Range"))
	assert.Eq(t, "2345", body)

	resp, body = get(t, f, request("GET", "/docs/a.txt", "Range: bytes=-3"))
	assert.Eq(t, http.StatusPartialContent, resp.StatusCode)
	assert.Eq(t, "789", body)

	resp, _ = get(t, f, request("GET", "/docs/a.txt", "Range: bytes=20-"))
	assert.Eq(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Eq(t, "bytes */10", resp.Header.Get("Content-Range"))

	resp, body = get(t, f, request("GET", "/docs/a.txt"))
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Eq(t, "0123456789", body)
}

func TestServeRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.NoErr(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello from disk"), 0o600))
	resp, body := get(t, &FS{Root: dir}, request("GET", "/hello.txt"))
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Eq(t, "hello from disk", body)
}

func TestParseByteRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		start, end int64
		ok         bool
	}{
		{"bytes=0-0", 0, 0, true},
		{"bytes=0-", 0, 99, true},
		{"bytes=10-200", 10, 99, true},
		{"bytes=-10", 90, 99, true},
		{"bytes=-1000", 0, 99, true},
		{"bytes=100-", 0, 0, false},
		{"bytes=5-4", 0, 0, false},
		{"bytes=-0", 0, 0, false},
		{"bytes=1-2,4-5", 0, 0, false},
		{"items=0-1", 0, 0, false},
		{"bytes 0-1", 0, 0, false},
		{"bytes=a-b", 0, 0, false},
		{"bytes=5", 0, 0, false},
	}
	for _, tt := range tests {
		start, end, err := ParseByteRange(tt.in, 100)
		if !tt.ok {
			assert.Err(t, err, tt.in)
			continue
		}
		assert.NoErr(t, err, tt.in)
		assert.Eq(t, tt.start, start, tt.in)
		assert.Eq(t, tt.end, end, tt.in)
	}
}
