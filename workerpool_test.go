package nanohttp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
)

func TestWorkerPoolSaturation(t *testing.T) {
	t.Parallel()

	var started sync.WaitGroup
	wp := NewWorkerPoolExecutor(2, nil)
	first, _ := blockingConn(1, &started)
	second, _ := blockingConn(2, &started)
	assert.NoErr(t, wp.Submit(first))
	assert.NoErr(t, wp.Submit(second))
	started.Wait()
	assert.Eq(t, 2, wp.Live())
	assert.Eq(t, 2, wp.Workers())

	third, pipe := blockingConn(3, &started)
	started.Done()
	assert.True(t, errors.Is(wp.Submit(third), ErrExecutorSaturated))
	assert.NoErr(t, pipe.Close())

	// a finished connection frees its worker for the next one.
	assert.NoErr(t, first.Close())
	waitFor(t, func() bool { return wp.Live() == 1 })
	fourth, _ := blockingConn(4, &started)
	waitFor(t, func() bool { return wp.Submit(fourth) == nil })
	started.Wait()
	assert.Eq(t, 2, wp.Workers())

	wp.ShutdownAll()
	waitFor(t, func() bool { return wp.Live() == 0 && wp.Workers() == 0 })
}

func TestWorkerPoolRestartsAfterShutdown(t *testing.T) {
	t.Parallel()

	var started sync.WaitGroup
	wp := NewWorkerPoolExecutor(1, nil)
	wp.ShutdownAll()

	c, _ := blockingConn(1, &started)
	assert.NoErr(t, wp.Submit(c))
	started.Wait()
	wp.ShutdownAll()
	waitFor(t, func() bool { return wp.Workers() == 0 })

	c, _ = blockingConn(2, &started)
	assert.NoErr(t, wp.Submit(c))
	started.Wait()
	wp.ShutdownAll()
	waitFor(t, func() bool { return wp.Live() == 0 && wp.Workers() == 0 })
}

func TestWorkerPoolIdleWorkersExit(t *testing.T) {
	t.Parallel()

	wp := NewWorkerPoolExecutor(4, nil)
	wp.MaxIdleWorkerDuration = 20 * time.Millisecond

	var served sync.WaitGroup
	for i := uint64(1); i <= 3; i++ {
		served.Add(1)
		c := newClientConn(i, nil, func(*ClientConn) { served.Done() })
		assert.NoErr(t, wp.Submit(c))
	}
	served.Wait()
	waitFor(t, func() bool { return wp.Workers() == 0 })

	wp.ShutdownAll()
}
