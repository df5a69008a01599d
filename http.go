package nanohttp

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// Response is the logical response a Responder hands back for one request.
//
// The body is either of known length (fixed-length framing) or of unknown
// length (chunked framing). A Response is written once and then discarded.
type Response struct {
	Status   Status
	MimeType string
	// Header holds additional response headers. Set-Cookie may repeat.
	// An explicit Content-Length here overrides the body length and
	// disables gzip.
	Header Header

	data          io.Reader
	contentLength int64

	gzip      bool
	gzipSet   bool
	keepAlive bool
	closeConn bool

	requestMethod Method

	// set by the session before writing.
	serverName string
	gzipLevel  int
	now        func() time.Time
	logger     *zerolog.Logger
}

// NewFixedLengthResponse returns a response whose body is exactly length
// bytes read from data. A negative length means unknown and selects chunked
// framing. data may be nil for an empty body.
func NewFixedLengthResponse(status Status, mimeType string, data io.Reader, length int64) *Response {
	if length < 0 {
		length = -1
	}
	return &Response{
		Status:        status,
		MimeType:      mimeType,
		data:          data,
		contentLength: length,
		keepAlive:     true,
		gzipLevel:     CompressDefaultCompression,
	}
}

// NewChunkedResponse returns a response of unknown length, sent with
// Transfer-Encoding: chunked.
func NewChunkedResponse(status Status, mimeType string, data io.Reader) *Response {
	return NewFixedLengthResponse(status, mimeType, data, -1)
}

// NewBytesResponse returns a fixed-length response carrying body.
func NewBytesResponse(status Status, mimeType string, body []byte) *Response {
	return NewFixedLengthResponse(status, mimeType, bytes.NewReader(body), int64(len(body)))
}

// NewTextResponse returns a fixed-length response carrying text. An empty
// mimeType defaults to text/html.
func NewTextResponse(status Status, mimeType, text string) *Response {
	if mimeType == "" {
		mimeType = MimeTypeHTML
	}
	return NewFixedLengthResponse(status, mimeType, strings.NewReader(text), int64(len(text)))
}

// Common MIME types.
const (
	MimeTypePlainText = "text/plain"
	MimeTypeHTML      = "text/html"
	MimeTypeJSON      = "application/json"
)

// newErrorResponse builds the plain text response used for protocol and
// processing failures.
func newErrorResponse(status Status, message string) *Response {
	return NewTextResponse(status, MimeTypePlainText, message)
}

// Data returns the body source.
func (resp *Response) Data() io.Reader {
	return resp.data
}

// ContentLength returns the body length the response was built with, or -1.
func (resp *Response) ContentLength() int64 {
	return resp.contentLength
}

// SetGzip asks for gzip encoding of the body. It only takes effect for
// eligible MIME types and is ignored when Content-Length is set explicitly.
// SetGzip(false) opts out of Server.GzipWhenAccepted.
func (resp *Response) SetGzip(gzip bool) {
	resp.gzip = gzip
	resp.gzipSet = true
}

// Gzip reports whether gzip encoding was requested.
func (resp *Response) Gzip() bool {
	return resp.gzip
}

// SetKeepAlive controls the Connection header. It is set by the session from
// the request and may be overridden by the responder.
func (resp *Response) SetKeepAlive(keepAlive bool) {
	resp.keepAlive = keepAlive
}

// KeepAlive reports whether the connection stays open after this response.
// A "Connection: close" entry in Header closes it as well.
func (resp *Response) KeepAlive() bool {
	return resp.keepAlive && !resp.closeConn && !resp.Header.hasToken("connection", "close")
}

// SetConnectionClose closes the connection once the response was sent.
func (resp *Response) SetConnectionClose() {
	resp.closeConn = true
}

// ConnectionClose reports whether the connection is closed after writing.
func (resp *Response) ConnectionClose() bool {
	return !resp.KeepAlive()
}

// SetRequestMethod records the method of the request being answered.
// HEAD responses carry headers only.
func (resp *Response) SetRequestMethod(m Method) {
	resp.requestMethod = m
}

// Close closes the body source if it implements io.Closer.
func (resp *Response) Close() error {
	if c, ok := resp.data.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (resp *Response) mustSkipBody() bool {
	return resp.requestMethod == MethodHead || !resp.Status.bodyAllowed()
}

// transfer describes the framing chosen for one response.
type transfer struct {
	chunked bool
	gzip    bool
	length  int64
}

// chooseTransfer applies the framing precedence: an explicit Content-Length
// header wins and disables gzip, a known length selects fixed-length,
// anything else is chunked. Gzip always forces chunked framing.
func (resp *Response) chooseTransfer() transfer {
	if v := resp.Header.Get("content-length"); v != "" {
		if n, err := parseContentLength(v); err == nil {
			return transfer{length: n}
		}
		loggerOrNop(resp.logger).Warn().Str("value", v).Msg("ignoring invalid explicit Content-Length header")
		resp.Header.Del("content-length")
	}
	if resp.gzip {
		return transfer{chunked: true, gzip: true, length: -1}
	}
	if resp.contentLength >= 0 {
		return transfer{length: resp.contentLength}
	}
	return transfer{chunked: true, length: -1}
}

// Write serializes the response onto w and flushes it.
//
// The body source is closed afterwards. A failure to close it is logged and
// does not turn a successfully sent response into an error.
func (resp *Response) Write(w *bufio.Writer) (err error) {
	defer resp.closeData()

	t := resp.chooseTransfer()
	if err = resp.writeHeader(w, t); err != nil {
		return err
	}
	if !resp.mustSkipBody() {
		if err = resp.writeBody(w, t); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (resp *Response) closeData() {
	if err := resp.Close(); err != nil {
		loggerOrNop(resp.logger).Warn().Err(err).Msg("cannot close response body source")
	}
}

func (resp *Response) writeHeader(w *bufio.Writer, t transfer) error {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)

	b.B = append(b.B, "HTTP/1.1 "...)
	b.B = strconv.AppendInt(b.B, int64(resp.Status), 10)
	b.B = append(b.B, ' ')
	b.B = append(b.B, resp.Status.Reason()...)
	b.B = append(b.B, strCRLF...)

	if resp.MimeType != "" && !resp.Header.Has("content-type") {
		b.B = appendHeaderLine(b.B, "Content-Type", resp.MimeType)
	}
	if !resp.Header.Has("date") {
		now := time.Now
		if resp.now != nil {
			now = resp.now
		}
		b.B = appendHeaderLine(b.B, "Date", formatHTTPDate(now()))
	}
	if resp.serverName != "" && !resp.Header.Has("server") {
		b.B = appendHeaderLine(b.B, "Server", resp.serverName)
	}
	resp.Header.VisitAll(func(name, value string) {
		switch strings.ToLower(name) {
		case "connection", "content-length", "transfer-encoding":
			return
		case "content-encoding":
			if t.gzip {
				return
			}
		}
		b.B = appendHeaderLine(b.B, name, value)
	})
	if resp.KeepAlive() {
		b.B = appendHeaderLine(b.B, "Connection", "keep-alive")
	} else {
		b.B = appendHeaderLine(b.B, "Connection", "close")
	}
	if resp.Status.bodyAllowed() {
		if t.gzip {
			b.B = appendHeaderLine(b.B, "Content-Encoding", "gzip")
		}
		if t.chunked {
			b.B = appendHeaderLine(b.B, "Transfer-Encoding", "chunked")
		} else {
			b.B = appendHeaderLine(b.B, "Content-Length", strconv.FormatInt(t.length, 10))
		}
	}
	b.B = append(b.B, strCRLF...)
	_, err := w.Write(b.B)
	return err
}

func appendHeaderLine(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, strColonSpace...)
	dst = append(dst, value...)
	return append(dst, strCRLF...)
}

func (resp *Response) writeBody(w *bufio.Writer, t transfer) error {
	data := resp.data
	if data == nil {
		data = eofReader{}
	}
	switch {
	case t.gzip:
		return writeBodyGzip(w, data, resp.gzipLevel)
	case t.chunked:
		return writeBodyChunked(w, data)
	case t.length > 0:
		return writeBodyFixedSize(w, data, t.length)
	}
	return nil
}

func writeBodyGzip(w *bufio.Writer, r io.Reader, level int) error {
	level = clampCompressLevel(level)
	cw := &chunkWriter{w: w}
	zw := acquireGzipWriter(cw, level)
	defer releaseGzipWriter(zw, level)
	if _, err := copyZeroAlloc(zw, r); err != nil {
		return errors.Wrap(err, "cannot gzip response body")
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}
