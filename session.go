package nanohttp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SessionState is the state of a connection's keep-alive loop.
type SessionState int32

const (
	// StateAccepted is the state of a connection that was admitted but whose
	// session loop has not started yet.
	StateAccepted SessionState = iota
	// StateAwaitingRequest is the state between requests, while the session
	// waits for the next request line.
	StateAwaitingRequest
	// StateProcessing is the state from the first request byte until the
	// response was written.
	StateProcessing
	// StateClosed is terminal.
	StateClosed
)

var sessionStateName = map[SessionState]string{
	StateAccepted:        "accepted",
	StateAwaitingRequest: "awaiting request",
	StateProcessing:      "processing",
	StateClosed:          "closed",
}

func (s SessionState) String() string {
	return sessionStateName[s]
}

const (
	defaultReadBufferSize  = 8192
	defaultWriteBufferSize = 4096
)

// sessionConfig is everything a session needs from its server. It is built
// once per Start and shared read-only by every session.
type sessionConfig struct {
	responder        Responder
	bodyStores       BodyStoreFactory
	mimeTypes        *MimeTypes
	readTimeout      time.Duration
	writeTimeout     time.Duration
	maxBodySize      int64
	gzipWhenAccepted bool
	gzipEligible     GzipEligibleFunc
	gzipLevel        int
	serverName       string
	stats            StatBoard
	logger           *zerolog.Logger
	connState        func(*ClientConn, SessionState)
	stopping         *atomic.Bool

	readBufferSize  int
	writeBufferSize int
	readerPool      sync.Pool
	writerPool      sync.Pool
}

func (cfg *sessionConfig) acquireReader(r io.Reader) *bufio.Reader {
	v := cfg.readerPool.Get()
	if v == nil {
		n := cfg.readBufferSize
		if n <= 0 {
			n = defaultReadBufferSize
		}
		return bufio.NewReaderSize(r, n)
	}
	br := v.(*bufio.Reader)
	br.Reset(r)
	return br
}

func (cfg *sessionConfig) releaseReader(br *bufio.Reader) {
	br.Reset(nil)
	cfg.readerPool.Put(br)
}

func (cfg *sessionConfig) acquireWriter(w io.Writer) *bufio.Writer {
	v := cfg.writerPool.Get()
	if v == nil {
		n := cfg.writeBufferSize
		if n <= 0 {
			n = defaultWriteBufferSize
		}
		return bufio.NewWriterSize(w, n)
	}
	bw := v.(*bufio.Writer)
	bw.Reset(w)
	return bw
}

func (cfg *sessionConfig) releaseWriter(bw *bufio.Writer) {
	bw.Reset(nil)
	cfg.writerPool.Put(bw)
}

// Session is the state of one connection and of the request currently being
// served on it. It is owned by the connection's goroutine and must not be
// retained by a Responder after Respond returned.
type Session struct {
	cfg    *sessionConfig
	conn   *ClientConn
	br     *bufio.Reader
	bw     *bufio.Writer
	logger zerolog.Logger

	remoteIP   string
	requestNum uint64

	method      Method
	uri         string
	rawURI      string
	protocol    string
	queryString string
	header      Header
	params      Params
	cookies     *CookieJar
	store       BodyStore
	requestID   string

	// set when the request framing is lost and the connection cannot be
	// reused.
	mustClose bool
}

// Method returns the request method.
func (s *Session) Method() Method { return s.method }

// URI returns the percent-decoded request path without the query string.
func (s *Session) URI() string { return s.uri }

// RawURI returns the request target as sent by the client.
func (s *Session) RawURI() string { return s.rawURI }

// Protocol returns the request protocol, "HTTP/1.1" when the client sent none.
func (s *Session) Protocol() string { return s.protocol }

// QueryString returns the raw query string without the '?'.
func (s *Session) QueryString() string { return s.queryString }

// Header returns the request headers, including the synthetic remote-addr
// and http-client-ip entries.
func (s *Session) Header() *Header { return &s.header }

// Params returns the decoded query and form parameters.
func (s *Session) Params() Params { return s.params }

// Cookies returns the request cookies. Cookies set on the jar are sent with
// the response.
func (s *Session) Cookies() *CookieJar { return s.cookies }

// BodyStore returns the entities of the request body. It is cleared once the
// response was written.
func (s *Session) BodyStore() BodyStore { return s.store }

// Entity returns the named body entity.
func (s *Session) Entity(name string) (Entity, bool) { return s.store.Entity(name) }

// RemoteIP returns the peer IP address.
func (s *Session) RemoteIP() string { return s.remoteIP }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// RequestID returns a unique id of the current request.
func (s *Session) RequestID() string { return s.requestID }

// RequestNumber returns the 1-based index of the current request on the
// connection.
func (s *Session) RequestNumber() uint64 { return s.requestNum }

// ConnID returns the id of the connection.
func (s *Session) ConnID() uint64 { return s.conn.ID() }

// MimeTypes returns the server's MIME table.
func (s *Session) MimeTypes() *MimeTypes { return s.cfg.mimeTypes }

// Logger returns a logger carrying the connection and request ids.
func (s *Session) Logger() *zerolog.Logger { return &s.logger }

// deadlineReader bounds every single read from the connection by timeout.
type deadlineReader struct {
	c       net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.c.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.c.Read(p)
}

// serveSession runs the keep-alive loop of c until the connection closes.
func serveSession(cfg *sessionConfig, c *ClientConn) {
	var r io.Reader = c.conn
	if cfg.readTimeout > 0 {
		r = &deadlineReader{c: c.conn, timeout: cfg.readTimeout}
	}
	s := &Session{
		cfg:      cfg,
		conn:     c,
		br:       cfg.acquireReader(r),
		bw:       cfg.acquireWriter(c.conn),
		remoteIP: remoteIP(c.RemoteAddr()),
		params:   make(Params),
	}
	s.logger = cfg.logger.With().Uint64("conn", c.id).Str("remote", s.remoteIP).Logger()
	defer s.close()

	s.setState(StateAwaitingRequest)
	for {
		keepAlive, err := s.executeOnce()
		if err != nil {
			if isCommonNetError(err) {
				s.logger.Debug().Err(err).Msg("connection closed")
			} else {
				s.logger.Error().Err(err).Msg("error when serving connection")
			}
			return
		}
		if !keepAlive {
			return
		}
		if cfg.stopping != nil && cfg.stopping.Load() {
			s.logger.Debug().Msg("closing keep-alive connection on shutdown")
			return
		}
		s.setState(StateAwaitingRequest)
	}
}

func (s *Session) setState(state SessionState) {
	s.conn.state.Store(int32(state))
	if s.cfg.connState != nil {
		s.cfg.connState(s.conn, state)
	}
}

func (s *Session) close() {
	if s.store != nil {
		s.store.Clear()
		s.store = nil
	}
	if err := s.conn.Close(); err != nil && !isCommonNetError(err) {
		s.logger.Debug().Err(err).Msg("error closing connection")
	}
	s.cfg.releaseReader(s.br)
	s.cfg.releaseWriter(s.bw)
	s.br, s.bw = nil, nil
	s.setState(StateClosed)
}

func (s *Session) resetRequest() {
	s.method = ""
	s.uri = ""
	s.rawURI = ""
	s.protocol = ""
	s.queryString = ""
	s.header.Reset()
	clear(s.params)
	s.cookies = nil
	s.requestID = ""
	s.mustClose = false
	s.logger = s.cfg.logger.With().Uint64("conn", s.conn.id).Str("remote", s.remoteIP).Logger()
}

// errPanic marks a recovered responder panic. The connection is torn down
// without a response.
type errPanic struct {
	value any
}

func (e *errPanic) Error() string {
	return fmt.Sprintf("panic in responder: %v", e.value)
}

// executeOnce serves one request. It returns whether the connection may be
// reused and the error that ends the session, if any.
func (s *Session) executeOnce() (keepAlive bool, err error) {
	s.resetRequest()

	head, err := readHead(s.br)
	if err != nil {
		if errors.Is(err, ErrHeaderTooLarge) {
			s.setState(StateProcessing)
			s.cfg.stats.Count(StatRequestErrors, 1)
			resp := newErrorResponse(StatusRequestHeaderFieldsTooLarge, "REQUEST HEADER FIELDS TOO LARGE: request head exceeds "+strconv.Itoa(s.br.Size())+" bytes")
			resp.SetConnectionClose()
			return false, s.send(resp)
		}
		return false, err
	}
	s.setState(StateProcessing)
	s.conn.touch()
	start := time.Now()
	s.requestNum++
	s.requestID = uuid.NewString()
	s.logger = s.logger.With().Str("req", s.requestID).Logger()

	s.store = s.cfg.bodyStores.NewBodyStore()
	defer func() {
		s.store.Clear()
		s.store = nil
	}()

	line, rest := nextLine(head)
	if perr := s.parseRequestLine(string(line)); perr != nil {
		s.cfg.stats.Count(StatRequestErrors, 1)
		resp := s.errorResponse(perr)
		resp.SetConnectionClose()
		return false, s.send(resp)
	}
	parseHeaderLines(&s.header, rest)
	s.header.Set("remote-addr", s.remoteIP)
	s.header.Set("http-client-ip", s.remoteIP)
	s.cookies = newCookieJar(&s.header)
	keepAlive = s.requestKeepAlive()

	s.logger.Debug().Str("method", string(s.method)).Str("uri", s.rawURI).Msg("request")
	s.cfg.stats.Count(StatRequests, 1)

	var resp *Response
	if berr := s.readBody(); berr != nil {
		s.cfg.stats.Count(StatRequestErrors, 1)
		resp = s.errorResponse(berr)
	} else {
		resp, err = s.respond()
		if err != nil {
			var pe *errPanic
			if errors.As(err, &pe) {
				return false, err
			}
			resp = s.errorResponse(err)
		} else if resp == nil {
			resp = newErrorResponse(StatusInternalServerError, "SERVER INTERNAL ERROR: Serve() returned a null response.")
		}
	}

	if s.mustClose || !keepAlive {
		resp.SetConnectionClose()
	}
	s.cookies.unloadQueue(resp)
	s.applyGzip(resp)
	if err = s.send(resp); err != nil {
		return false, err
	}
	s.cfg.stats.Time(StatRequestTime, time.Since(start))
	return resp.KeepAlive(), nil
}

// respond calls the responder, turning a panic into *errPanic.
func (s *Session) respond() (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.stats.Count(StatResponderPanics, 1)
			s.logger.Error().Interface("panic", r).Str("uri", s.rawURI).Msg("responder panicked")
			resp, err = nil, &errPanic{value: r}
		}
	}()
	return s.cfg.responder.Respond(s)
}

// errorResponse maps a request processing error onto the response sent to
// the client.
func (s *Session) errorResponse(err error) *Response {
	var re *ResponseError
	if errors.As(err, &re) {
		return newErrorResponse(re.Status, re.Message)
	}
	var ioErr *bodyIOError
	if errors.As(err, &ioErr) {
		s.mustClose = true
		return newErrorResponse(StatusInternalServerError, "SERVER INTERNAL ERROR: IOException: "+ioErr.Error())
	}
	s.logger.Warn().Err(err).Msg("responder failed")
	return newErrorResponse(StatusInternalServerError, "SERVER INTERNAL ERROR: "+err.Error())
}

func (s *Session) requestKeepAlive() bool {
	if s.header.hasToken("connection", "close") {
		return false
	}
	if strings.EqualFold(s.protocol, "HTTP/1.1") {
		return true
	}
	return s.header.hasToken("connection", "keep-alive")
}

func (s *Session) applyGzip(resp *Response) {
	want := s.cfg.gzipWhenAccepted
	if resp.gzipSet {
		want = resp.gzip
	}
	eligible := s.cfg.gzipEligible
	if eligible == nil {
		eligible = DefaultGzipEligible
	}
	resp.gzip = want && acceptsGzip(&s.header) && eligible(resp.MimeType)
}

// send writes resp with the session's settings.
func (s *Session) send(resp *Response) error {
	if resp.requestMethod == "" {
		resp.SetRequestMethod(s.method)
	}
	resp.serverName = s.cfg.serverName
	resp.gzipLevel = s.cfg.gzipLevel
	resp.logger = &s.logger
	if s.cfg.writeTimeout > 0 {
		if err := s.conn.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout)); err != nil {
			return err
		}
	}
	if err := resp.Write(s.bw); err != nil {
		var mismatch *ErrBodySizeMismatch
		if errors.As(err, &mismatch) {
			s.logger.Error().Err(err).Msg("response body shorter than its declared length")
		}
		return err
	}
	s.cfg.stats.Count(StatResponses+"."+strconv.Itoa(int(resp.Status)), 1)
	return nil
}

const usageHint = "Usage: GET /example/file.html"

// parseRequestLine parses "METHOD URI [PROTOCOL]" and decodes the query
// string into the session's params.
func (s *Session) parseRequestLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return NewResponseError(StatusBadRequest, "BAD REQUEST: Syntax error. "+usageHint)
	}
	method, ok := LookupMethod(fields[0])
	if !ok {
		return NewResponseError(StatusBadRequest, "BAD REQUEST: Syntax error. HTTP verb "+fields[0]+" unhandled.")
	}
	s.method = method
	s.rawURI = fields[1]
	path, query, hasQuery := strings.Cut(s.rawURI, "?")
	if hasQuery {
		s.queryString = query
		decodeParams(s.params, query)
	}
	s.uri = decodePath(path)
	if len(fields) > 2 {
		s.protocol = fields[2]
	} else {
		s.protocol = "HTTP/1.1"
		s.logger.Debug().Str("line", line).Msg("no protocol version specified, assuming HTTP/1.1")
	}
	return nil
}

func remoteIP(addr net.Addr) string {
	if ip, ok := addrIP(addr); ok {
		return ip.String()
	}
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
