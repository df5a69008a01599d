package nanohttp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Responder produces the response for a parsed request. Routing lives
// behind this interface.
//
// A returned *ResponseError is sent with exactly its status and message.
// Any other error yields a 500 response. Panics are recovered and tear the
// connection down.
type Responder interface {
	Respond(s *Session) (*Response, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(s *Session) (*Response, error)

func (f ResponderFunc) Respond(s *Session) (*Response, error) {
	return f(s)
}

// Defaults used for zero Server fields.
const (
	DefaultReadTimeout  = 5 * time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// Server is an embeddable HTTP/1.1 server.
//
// It is safe to call Start, Stop and StopWithContext from different
// goroutines. Do not modify the exported fields while the server runs.
type Server struct {
	// Addr is the "host:port" to listen on. Port 0 picks a free port, see
	// ListenAddr.
	Addr string

	// Network passed to the SocketFactory. "tcp" if empty.
	Network string

	// Backlog is handed to the SocketFactory. Not every factory honours it.
	Backlog int

	// Responder handles every parsed request. Required.
	Responder Responder

	// SocketFactory creates the listener. DefaultSocketFactory if nil.
	// Use TLSSocketFactory for HTTPS.
	SocketFactory SocketFactory

	// Executor runs accepted connections. A ThreadPerConnExecutor is
	// created on the first Start if nil.
	Executor Executor

	// BodyStoreFactory creates the per request body store.
	// DefaultBodyStoreFactory if nil.
	BodyStoreFactory BodyStoreFactory

	// AccessControl admits connections by remote address before anything
	// is read. A denied connection is closed without a response.
	// Every connection is admitted if nil.
	AccessControl AccessControl

	// ReadTimeout bounds every read from a connection, including the wait
	// for the next request on a keep-alive connection.
	//
	// DefaultReadTimeout is used if 0. Negative disables the timeout.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one response. No timeout if <= 0.
	WriteTimeout time.Duration

	// MaxRequestBodySize is the largest accepted request body. Larger bodies
	// are answered with 413 and the connection is closed.
	//
	// Zero means unlimited. Bodies are spooled to disk and never held
	// in memory as a whole.
	MaxRequestBodySize int64

	// ReadBufferSize is the per connection read buffer size. It also limits
	// the size of the request head, larger heads get 431.
	// Default is 8192.
	ReadBufferSize int

	// WriteBufferSize is the per connection write buffer size.
	// Default is 4096.
	WriteBufferSize int

	// Name is sent in the Server response header if not empty.
	Name string

	// MimeTypes is the MIME table exposed to responders.
	// DefaultMimeTypes() if nil.
	MimeTypes *MimeTypes

	// GzipWhenAccepted gzips every eligible response when the client sends
	// Accept-Encoding: gzip. Without it only responses with SetGzip(true)
	// are compressed.
	GzipWhenAccepted bool

	// GzipEligible decides by MIME type which responses may be gzipped.
	// DefaultGzipEligible (text/*) if nil.
	GzipEligible GzipEligibleFunc

	// GzipLevel is the compression level. CompressDefaultCompression if 0.
	GzipLevel int

	// AcceptRate limits admitted connections per second with a token bucket
	// of AcceptBurst tokens. Connections over the rate are closed right
	// away. No limit if 0.
	AcceptRate  float64
	AcceptBurst int

	// DrainTimeout bounds how long Stop waits for force-closed connections
	// to finish. DefaultDrainTimeout if 0.
	DrainTimeout time.Duration

	// ConnState is called on every session state change.
	ConnState func(c *ClientConn, state SessionState)

	// Stats receives counters and timings. NopStatBoard if nil.
	Stats StatBoard

	// Logger for diagnostics. Nothing is logged if nil.
	Logger *zerolog.Logger

	mu         sync.Mutex
	ln         net.Listener
	acceptDone chan struct{}
	cfg        *sessionConfig
	serveCfg   *sessionConfig
	stopping   atomic.Bool
	connSeq    atomic.Uint64

	lastRejectLog time.Time
}

type bindResult struct {
	ln  net.Listener
	err error
}

// Start binds the listener and starts the accept loop. A bind failure, such
// as the port being in use, is returned before Start returns.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrServerRunning
	}
	if s.Responder == nil {
		return ErrNoResponder
	}
	if s.Executor == nil {
		s.Executor = NewThreadPerConnExecutor(s.Logger)
	}
	s.stopping.Store(false)
	cfg := s.newSessionConfig()

	bound := make(chan bindResult, 1)
	done := make(chan struct{})
	go s.acceptLoop(cfg, s.Executor, s.newLimiter(), bound, done)
	res := <-bound
	if res.err != nil {
		<-done
		return errors.Wrapf(res.err, "cannot listen on %q", s.Addr)
	}
	s.ln = res.ln
	s.acceptDone = done
	s.cfg = cfg
	return nil
}

// Stop is StopWithContext bounded by DrainTimeout.
func (s *Server) Stop() error {
	d := s.DrainTimeout
	if d <= 0 {
		d = DefaultDrainTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.StopWithContext(ctx)
}

// StopWithContext closes the listener, joins the accept loop and force-closes
// every live connection. It then waits for the connections to finish until
// ctx is done, in which case ctx.Err() is returned. The port may be bound
// again once StopWithContext returned.
func (s *Server) StopWithContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ErrServerNotRunning
	}
	logger := loggerOrNop(s.Logger)
	s.stopping.Store(true)
	var err error
	if errc := s.ln.Close(); errc != nil && !errors.Is(errc, net.ErrClosed) {
		err = errc
	}
	<-s.acceptDone
	s.Executor.ShutdownAll()
	if errw := s.waitDrained(ctx); errw != nil && err == nil {
		err = errw
	}
	logger.Info().Str("addr", s.ln.Addr().String()).Msg("server stopped")
	s.ln = nil
	s.acceptDone = nil
	s.cfg = nil
	return err
}

type liveCounter interface {
	Live() int
}

func (s *Server) waitDrained(ctx context.Context) error {
	lc, ok := s.Executor.(liveCounter)
	if !ok {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for lc.Live() > 0 {
		select {
		case <-ctx.Done():
			loggerOrNop(s.Logger).Warn().Int("live", lc.Live()).Msg("connections still open after shutdown")
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// IsAlive reports whether the server is running.
func (s *Server) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln != nil
}

// ListenAddr returns the bound address, or nil if the server is not running.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Port returns the bound TCP port, or -1.
func (s *Server) Port() int {
	if addr, ok := s.ListenAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return -1
}

// ServeConn serves c on the calling goroutine and closes it when done. It
// applies AccessControl but bypasses the Executor.
func (s *Server) ServeConn(c net.Conn) error {
	s.mu.Lock()
	if s.Responder == nil {
		s.mu.Unlock()
		return ErrNoResponder
	}
	cfg := s.cfg
	if cfg == nil {
		if s.serveCfg == nil {
			s.serveCfg = s.newSessionConfig()
		}
		cfg = s.serveCfg
	}
	s.mu.Unlock()

	if s.AccessControl != nil && !s.AccessControl.AllowsAddr(c.RemoteAddr()) {
		cfg.stats.Count(StatConnDenied, 1)
		return c.Close()
	}
	cfg.stats.Count(StatConnAccepted, 1)
	cc := newClientConn(s.connSeq.Add(1), c, func(cc *ClientConn) {
		serveSession(cfg, cc)
	})
	if cfg.connState != nil {
		cfg.connState(cc, StateAccepted)
	}
	cc.Serve()
	return nil
}

func (s *Server) newSessionConfig() *sessionConfig {
	cfg := &sessionConfig{
		responder:        s.Responder,
		bodyStores:       s.BodyStoreFactory,
		mimeTypes:        s.MimeTypes,
		readTimeout:      s.ReadTimeout,
		writeTimeout:     s.WriteTimeout,
		maxBodySize:      s.MaxRequestBodySize,
		gzipWhenAccepted: s.GzipWhenAccepted,
		gzipEligible:     s.GzipEligible,
		gzipLevel:        s.GzipLevel,
		serverName:       s.Name,
		stats:            s.Stats,
		logger:           loggerOrNop(s.Logger),
		connState:        s.ConnState,
		stopping:         &s.stopping,
		readBufferSize:   s.ReadBufferSize,
		writeBufferSize:  s.WriteBufferSize,
	}
	if cfg.bodyStores == nil {
		cfg.bodyStores = &DefaultBodyStoreFactory{Logger: s.Logger}
	}
	if cfg.mimeTypes == nil {
		cfg.mimeTypes = DefaultMimeTypes()
	}
	if cfg.readTimeout == 0 {
		cfg.readTimeout = DefaultReadTimeout
	} else if cfg.readTimeout < 0 {
		cfg.readTimeout = 0
	}
	if cfg.gzipEligible == nil {
		cfg.gzipEligible = DefaultGzipEligible
	}
	if cfg.gzipLevel == 0 {
		cfg.gzipLevel = CompressDefaultCompression
	}
	if cfg.stats == nil {
		cfg.stats = NopStatBoard{}
	}
	return cfg
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.AcceptRate <= 0 {
		return nil
	}
	burst := s.AcceptBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.AcceptRate), burst)
}

func (s *Server) acceptLoop(cfg *sessionConfig, exec Executor, limiter *rate.Limiter, bound chan<- bindResult, done chan<- struct{}) {
	defer close(done)
	logger := cfg.logger

	factory := s.SocketFactory
	if factory == nil {
		factory = &DefaultSocketFactory{}
	}
	network := s.Network
	if network == "" {
		network = "tcp"
	}
	ln, err := factory.Listen(context.Background(), network, s.Addr, s.Backlog)
	bound <- bindResult{ln: ln, err: err}
	if err != nil {
		return
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.stopping.Load() {
				return
			}
			if isTemporaryAcceptError(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				logger.Warn().Err(err).Dur("retry_in", tempDelay).Msg("temporary error when accepting new connections")
				time.Sleep(tempDelay)
				continue
			}
			logger.Error().Err(err).Msg("permanent error when accepting new connections")
			return
		}
		tempDelay = 0
		s.admit(cfg, exec, limiter, c)
	}
}

func isTemporaryAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

// admit applies the rate limit and access control to c and hands it to the
// executor.
func (s *Server) admit(cfg *sessionConfig, exec Executor, limiter *rate.Limiter, c net.Conn) {
	logger := cfg.logger
	if limiter != nil && !limiter.Allow() {
		cfg.stats.Count(StatConnRateLimited, 1)
		logger.Debug().Stringer("remote", c.RemoteAddr()).Msg("connection over accept rate, closing")
		_ = c.Close()
		return
	}
	if s.AccessControl != nil && !s.AccessControl.AllowsAddr(c.RemoteAddr()) {
		cfg.stats.Count(StatConnDenied, 1)
		logger.Debug().Stringer("remote", c.RemoteAddr()).Msg("connection denied by access control")
		_ = c.Close()
		return
	}
	cfg.stats.Count(StatConnAccepted, 1)
	cc := newClientConn(s.connSeq.Add(1), c, func(cc *ClientConn) {
		serveSession(cfg, cc)
	})
	if cfg.connState != nil {
		cfg.connState(cc, StateAccepted)
	}
	if err := exec.Submit(cc); err != nil {
		cfg.stats.Count(StatConnRejected, 1)
		// The minimum interval for logging executor overflow is one minute.
		if time.Since(s.lastRejectLog) > time.Minute {
			logger.Warn().Err(err).Msg("the incoming connection cannot be served, executor refused it")
			s.lastRejectLog = time.Now()
		}
		_ = c.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = c.Write(executorSaturatedResponse)
		_ = cc.Close()
		if cfg.connState != nil {
			cfg.connState(cc, StateClosed)
		}
	}
}

func cannedResponse(status Status, body string, extraHeaders ...string) []byte {
	b := make([]byte, 0, 256)
	b = append(b, "HTTP/1.1 "...)
	b = append(b, status.Description()...)
	b = append(b, strCRLF...)
	for _, h := range extraHeaders {
		b = append(b, h...)
		b = append(b, strCRLF...)
	}
	b = appendHeaderLine(b, "Content-Type", "text/plain; charset=utf-8")
	b = appendHeaderLine(b, "Content-Length", strconv.Itoa(len(body)))
	b = appendHeaderLine(b, "Connection", "close")
	b = append(b, strCRLF...)
	return append(b, body...)
}

var executorSaturatedResponse = cannedResponse(StatusServiceUnavailable,
	"The server is currently temporarily overloaded", "Retry-After: 10")
