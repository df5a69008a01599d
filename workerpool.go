package nanohttp

import (
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxIdleWorkerDuration is the idle time after which a pool worker
// exits.
const DefaultMaxIdleWorkerDuration = 10 * time.Second

// WorkerPoolExecutor serves connections with a bounded pool of workers in
// FILO order, i.e. the most recently stopped worker serves the next
// connection.
//
// Submit returns ErrExecutorSaturated once MaxWorkers connections are being
// served.
type WorkerPoolExecutor struct {
	// MaxWorkers bounds the number of simultaneously served connections.
	MaxWorkers int
	// MaxIdleWorkerDuration is the time an idle worker waits for the next
	// connection before exiting. DefaultMaxIdleWorkerDuration if 0.
	MaxIdleWorkerDuration time.Duration
	Logger                *zerolog.Logger

	lock         sync.Mutex
	workersCount int
	mustStop     bool
	ready        []*workerChan
	stopCh       chan struct{}

	workerChanPool sync.Pool
	seq            atomic.Uint64

	liveOnce sync.Once
	live     liveSet
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan *ClientConn
}

// NewWorkerPoolExecutor returns a pool serving at most maxWorkers
// connections at once.
func NewWorkerPoolExecutor(maxWorkers int, logger *zerolog.Logger) *WorkerPoolExecutor {
	return &WorkerPoolExecutor{MaxWorkers: maxWorkers, Logger: logger}
}

func (wp *WorkerPoolExecutor) initLive() {
	wp.liveOnce.Do(func() {
		wp.live = newLiveSet()
		wp.workerChanPool.New = func() any {
			return &workerChan{
				ch: make(chan *ClientConn, workerChanCap),
			}
		}
	})
}

// start launches the idle worker cleaner. wp.lock must be held.
func (wp *WorkerPoolExecutor) start() {
	if wp.stopCh != nil {
		return
	}
	wp.stopCh = make(chan struct{})
	wp.mustStop = false
	stopCh := wp.stopCh
	go func() {
		var scratch []*workerChan
		timer := time.NewTimer(wp.getMaxIdleWorkerDuration())
		defer timer.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-timer.C:
				wp.clean(&scratch)
				timer.Reset(wp.getMaxIdleWorkerDuration())
			}
		}
	}()
}

// stop releases idle workers. Busy workers exit after their connection is
// done. wp.lock must be held.
func (wp *WorkerPoolExecutor) stop() {
	if wp.stopCh == nil {
		return
	}
	close(wp.stopCh)
	wp.stopCh = nil

	ready := wp.ready
	for i := range ready {
		ready[i].ch <- nil
		ready[i] = nil
	}
	wp.ready = ready[:0]
	wp.mustStop = true
}

func (wp *WorkerPoolExecutor) getMaxIdleWorkerDuration() time.Duration {
	if wp.MaxIdleWorkerDuration <= 0 {
		return DefaultMaxIdleWorkerDuration
	}
	return wp.MaxIdleWorkerDuration
}

func (wp *WorkerPoolExecutor) clean(scratch *[]*workerChan) {
	maxIdleWorkerDuration := wp.getMaxIdleWorkerDuration()

	// Clean least recently used workers if they didn't serve connections
	// for more than maxIdleWorkerDuration.
	criticalTime := time.Now().Add(-maxIdleWorkerDuration)

	wp.lock.Lock()
	ready := wp.ready
	n := len(ready)

	// binary search for the most recently used worker that is already stale.
	l, r := 0, n-1
	for l <= r {
		mid := (l + r) / 2
		if criticalTime.After(ready[mid].lastUseTime) {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	i := r
	if i == -1 {
		wp.lock.Unlock()
		return
	}

	*scratch = append((*scratch)[:0], ready[:i+1]...)
	m := copy(ready, ready[i+1:])
	for i = m; i < n; i++ {
		ready[i] = nil
	}
	wp.ready = ready[:m]
	wp.lock.Unlock()

	// Notify obsolete workers to stop outside the lock, the send may block.
	tmp := *scratch
	for i := range tmp {
		tmp[i].ch <- nil
		tmp[i] = nil
	}
}

var workerChanCap = func() int {
	// Use blocking workerChan if GOMAXPROCS=1.
	// This immediately switches Submit to the worker.
	if runtime.GOMAXPROCS(0) == 1 {
		return 0
	}

	// Use non-blocking workerChan if GOMAXPROCS>1,
	// since otherwise the acceptor may lag accepting
	// new connections if the session is CPU-bound.
	return 1
}()

func (wp *WorkerPoolExecutor) Submit(c *ClientConn) error {
	wp.initLive()
	ch := wp.getCh()
	if ch == nil {
		return ErrExecutorSaturated
	}
	wp.live.add(c)
	ch.ch <- c
	return nil
}

func (wp *WorkerPoolExecutor) getCh() *workerChan {
	var ch *workerChan
	createWorker := false

	wp.lock.Lock()
	wp.start()
	ready := wp.ready
	n := len(ready) - 1
	if n < 0 {
		if wp.workersCount < wp.MaxWorkers {
			createWorker = true
			wp.workersCount++
		}
	} else {
		ch = ready[n]
		ready[n] = nil
		wp.ready = ready[:n]
	}
	wp.lock.Unlock()

	if ch == nil {
		if !createWorker {
			return nil
		}
		vch := wp.workerChanPool.Get()
		ch = vch.(*workerChan)
		id := wp.seq.Add(1)
		go func() {
			labels := pprof.Labels("goroutine", "nanohttp worker #"+strconv.FormatUint(id, 10))
			pprof.Do(context.Background(), labels, func(context.Context) {
				wp.workerFunc(ch)
			})
			wp.workerChanPool.Put(vch)
		}()
	}
	return ch
}

func (wp *WorkerPoolExecutor) release(ch *workerChan) bool {
	ch.lastUseTime = time.Now()
	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return false
	}
	wp.ready = append(wp.ready, ch)
	wp.lock.Unlock()
	return true
}

func (wp *WorkerPoolExecutor) workerFunc(ch *workerChan) {
	for c := range ch.ch {
		if c == nil {
			break
		}
		c.Serve()
		wp.NotifyDone(c)
		if !wp.release(ch) {
			break
		}
	}

	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
}

func (wp *WorkerPoolExecutor) NotifyDone(c *ClientConn) {
	wp.initLive()
	wp.live.remove(c)
}

// ShutdownAll stops idle workers and force-closes every served connection.
// The pool starts again on the next Submit.
func (wp *WorkerPoolExecutor) ShutdownAll() {
	wp.initLive()
	wp.lock.Lock()
	wp.stop()
	wp.lock.Unlock()
	wp.live.closeAll(loggerOrNop(wp.Logger))
}

// Live returns the number of connections currently served.
func (wp *WorkerPoolExecutor) Live() int {
	wp.initLive()
	return wp.live.size()
}

// Workers returns the number of running workers, idle ones included.
func (wp *WorkerPoolExecutor) Workers() int {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	return wp.workersCount
}
