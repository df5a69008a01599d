package nanohttp

import (
	"context"
	"net"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Executor turns accepted connections into running units of work.
//
// Submit starts serving c, or returns an error if it cannot, in which case
// the caller still owns c. Once c.Serve returns the executor calls
// NotifyDone. ShutdownAll force-closes every connection still being served;
// the blocked reads fail and the units terminate on their own.
type Executor interface {
	Submit(c *ClientConn) error
	NotifyDone(c *ClientConn)
	ShutdownAll()
}

// ClientConn is one accepted connection together with its session loop.
type ClientConn struct {
	id        uint64
	conn      net.Conn
	createdAt int64
	serve     func(*ClientConn)

	state      atomic.Int32
	lastActive atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

func newClientConn(id uint64, conn net.Conn, serve func(*ClientConn)) *ClientConn {
	now := absoluteNano()
	c := &ClientConn{
		id:        id,
		conn:      conn,
		createdAt: now,
		serve:     serve,
	}
	c.lastActive.Store(now)
	c.state.Store(int32(StateAccepted))
	return c
}

// ID returns the connection's sequence number, unique per Server.
func (c *ClientConn) ID() uint64 {
	return c.id
}

// Conn returns the underlying connection.
func (c *ClientConn) Conn() net.Conn {
	return c.conn
}

// RemoteAddr returns the peer address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// State returns the current session state.
func (c *ClientConn) State() SessionState {
	return SessionState(c.state.Load())
}

// Serve runs the session loop until the connection is done. Executors call
// it from the goroutine they dedicate to c.
func (c *ClientConn) Serve() {
	c.serve(c)
}

// Close closes the connection. It is safe to call more than once and from
// any goroutine.
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// CreatedAt returns the time the connection was accepted.
func (c *ClientConn) CreatedAt() time.Time {
	return absoluteToUTC(c.createdAt)
}

// LastActive returns the time the last request on the connection started.
func (c *ClientConn) LastActive() time.Time {
	return absoluteToUTC(c.lastActive.Load())
}

func (c *ClientConn) touch() {
	c.lastActive.Store(absoluteNano())
}

// liveSet tracks the connections an executor is serving.
type liveSet struct {
	m *xsync.MapOf[uint64, *ClientConn]
}

func newLiveSet() liveSet {
	return liveSet{m: xsync.NewMapOf[uint64, *ClientConn]()}
}

func (s liveSet) add(c *ClientConn) {
	s.m.Store(c.id, c)
}

func (s liveSet) remove(c *ClientConn) {
	s.m.Delete(c.id)
}

func (s liveSet) closeAll(logger *zerolog.Logger) {
	s.m.Range(func(id uint64, c *ClientConn) bool {
		if err := c.Close(); err != nil && !isCommonNetError(err) {
			logger.Debug().Err(err).Uint64("conn", id).Msg("error closing connection on shutdown")
		}
		return true
	})
}

func (s liveSet) size() int {
	return s.m.Size()
}

// ThreadPerConnExecutor serves every connection on its own goroutine. The
// number of goroutines is not bounded.
//
// Goroutines carry the pprof label "goroutine" with the value
// "nanohttp request processor #N".
type ThreadPerConnExecutor struct {
	Logger *zerolog.Logger

	seq  atomic.Uint64
	once sync.Once
	live liveSet
	wg   sync.WaitGroup
}

// NewThreadPerConnExecutor returns a ready to use executor.
func NewThreadPerConnExecutor(logger *zerolog.Logger) *ThreadPerConnExecutor {
	e := &ThreadPerConnExecutor{Logger: logger}
	e.init()
	return e
}

func (e *ThreadPerConnExecutor) init() {
	e.once.Do(func() {
		e.live = newLiveSet()
	})
}

func (e *ThreadPerConnExecutor) Submit(c *ClientConn) error {
	e.init()
	n := e.seq.Add(1)
	e.live.add(c)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.NotifyDone(c)
		labels := pprof.Labels("goroutine", "nanohttp request processor #"+strconv.FormatUint(n, 10))
		pprof.Do(context.Background(), labels, func(context.Context) {
			c.Serve()
		})
	}()
	return nil
}

func (e *ThreadPerConnExecutor) NotifyDone(c *ClientConn) {
	e.live.remove(c)
}

func (e *ThreadPerConnExecutor) ShutdownAll() {
	e.init()
	e.live.closeAll(loggerOrNop(e.Logger))
}

// Live returns the number of connections currently served.
func (e *ThreadPerConnExecutor) Live() int {
	e.init()
	return e.live.size()
}

// Wait blocks until every goroutine started by Submit returned.
func (e *ThreadPerConnExecutor) Wait() {
	e.wg.Wait()
}
