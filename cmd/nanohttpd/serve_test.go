package main

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/newacorn/nanohttp"
	"github.com/newacorn/nanohttp/internal/config"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttputil"
)

func roundTrip(t *testing.T, srv *nanohttp.Server, request string) (*http.Response, string) {
	t.Helper()
	pipe := fasthttputil.NewPipeConns()
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeConn(pipe.Conn1())
	}()

	c := pipe.Conn2()
	_, err := c.Write([]byte(request))
	assert.NoErr(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	assert.NoErr(t, err)
	body, err := io.ReadAll(resp.Body)
	assert.NoErr(t, err)
	assert.NoErr(t, c.Close())
	assert.NoErr(t, <-done)
	return resp, string(body)
}

func TestEchoResponder(t *testing.T) {
	t.Parallel()

	srv := &nanohttp.Server{Responder: newEchoResponder()}
	resp, body := roundTrip(t, srv, "POST /form/index.html?a=1&b HTTP/1.1\r\n"+
		"Host: example.com\r\n"+
		"Cookie: session=xyz\r\n"+
		"Content-Type: application/x-www-form-urlencoded\r\n"+
		"Content-Length: 7\r\n"+
		"Connection: close\r\n"+
		"\r\n"+
		"c=3&d=4")

	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "POST /form/index.html HTTP/1.1\n"))
	assert.Contains(t, body, "guessed type: text/html")
	assert.Contains(t, body, "  Host: example.com")
	assert.Contains(t, body, "  a = \"1\"")
	assert.Contains(t, body, "  b = \"\"")
	assert.Contains(t, body, "  d = \"4\"")
	assert.Contains(t, body, "  session = \"xyz\"")
}

func TestEchoResponderEntities(t *testing.T) {
	t.Parallel()

	srv := &nanohttp.Server{Responder: newEchoResponder()}
	_, body := roundTrip(t, srv, "PUT /upload HTTP/1.1\r\n"+
		"Content-Type: application/octet-stream\r\n"+
		"Content-Length: 5\r\n"+
		"Connection: close\r\n"+
		"\r\n"+
		"hello")
	assert.Contains(t, body, "  content: 5 bytes, application/octet-stream\n")
}

func TestEchoHealthz(t *testing.T) {
	t.Parallel()

	srv := &nanohttp.Server{Responder: withHealthz(newEchoResponder())}
	resp, body := roundTrip(t, srv, "GET /healthz HTTP/1.1\r\nConnection: close\r\n\r\n")
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "ok\n", body)

	resp, body = roundTrip(t, srv, "DELETE /healthz HTTP/1.1\r\nConnection: close\r\n\r\n")
	assert.Eq(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Eq(t, "METHOD NOT ALLOWED: DELETE", body)
}

func TestBuildServer(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	cfg := config.ServerConfig{
		Addr:       "127.0.0.1:0",
		Executor:   "pool",
		MaxWorkers: 4,
		MaxConns:   10,
		Access: config.AccessConfig{
			Default: "deny",
			Rules:   []string{"allow localhost"},
		},
	}
	srv, err := buildServer(cfg, &logger, nanohttp.NopStatBoard{})
	assert.NoErr(t, err)

	pool, ok := srv.Executor.(*nanohttp.WorkerPoolExecutor)
	assert.True(t, ok)
	assert.Eq(t, 4, pool.MaxWorkers)

	factory, ok := srv.SocketFactory.(*nanohttp.DefaultSocketFactory)
	assert.True(t, ok)
	assert.Eq(t, 10, factory.MaxConns)

	acl, ok := srv.AccessControl.(*nanohttp.AccessList)
	assert.True(t, ok)
	assert.Eq(t, nanohttp.Deny, acl.DefaultPolicy())
	assert.Len(t, acl.Rules(), 2)

	assert.NoErr(t, srv.Start())
	assert.True(t, srv.Port() > 0)
	assert.NoErr(t, srv.Stop())
}

func TestBuildServerDefaults(t *testing.T) {
	t.Parallel()

	srv, err := buildServer(config.ServerConfig{Addr: ":0", Access: config.AccessConfig{Default: "allow"}}, nil, nil)
	assert.NoErr(t, err)
	assert.Nil(t, srv.AccessControl)
	_, ok := srv.Executor.(*nanohttp.ThreadPerConnExecutor)
	assert.True(t, ok)
}

func TestBuildServerFileRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.NoErr(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>hi</p>"), 0o600))
	assert.NoErr(t, os.Mkdir(filepath.Join(dir, "empty"), 0o700))

	cfg := config.ServerConfig{
		Addr:       ":0",
		Root:       dir,
		IndexNames: []string{"index.html"},
		DirListing: true,
		Access:     config.AccessConfig{Default: "allow"},
	}
	srv, err := buildServer(cfg, nil, nil)
	assert.NoErr(t, err)

	resp, body := roundTrip(t, srv, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "text/html", resp.Header.Get("Content-Type"))
	assert.Eq(t, "<p>hi</p>", body)

	resp, body = roundTrip(t, srv, "GET /empty/ HTTP/1.1\r\nConnection: close\r\n\r\n")
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<a href="/" class="dir">..</a>`)

	resp, body = roundTrip(t, srv, "GET /healthz HTTP/1.1\r\nConnection: close\r\n\r\n")
	assert.Eq(t, http.StatusOK, resp.StatusCode)
	assert.Eq(t, "ok\n", body)

	resp, _ = roundTrip(t, srv, "GET /missing HTTP/1.1\r\nConnection: close\r\n\r\n")
	assert.Eq(t, http.StatusNotFound, resp.StatusCode)
}

func TestBuildServerBadTLS(t *testing.T) {
	t.Parallel()

	cfg := config.ServerConfig{
		Addr: ":0",
		TLS:  config.TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
	}
	_, err := buildServer(cfg, nil, nil)
	assert.Err(t, err)
}

// not parallel: newLogger rewrites zerolog globals.
func TestNewLogger(t *testing.T) {
	var out strings.Builder
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &out)
	assert.NoErr(t, err)
	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")
	assert.NotContains(t, out.String(), "dropped")
	assert.Contains(t, out.String(), `"L":"warn"`)
	assert.Contains(t, out.String(), `"M":"kept"`)

	_, err = newLogger(config.LogConfig{Level: "loud", Format: "json"}, &out)
	assert.Err(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out strings.Builder
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)
	assert.NoErr(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "nanohttpd "+Version)
}
