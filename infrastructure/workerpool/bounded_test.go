package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewBoundedPool(4)
	defer pool.Close()

	var counter atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		})
		require.NoError(t, err)
	}

	wg.Wait()
	assert.Equal(t, int32(20), counter.Load())
}

func TestBoundedPool_EnforcesConcurrencyLimit(t *testing.T) {
	const limit = 3
	pool := NewBoundedPool(limit)
	defer pool.Close()

	var inflight, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 12; i++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
		})
		require.NoError(t, err)
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Positive(t, peak.Load())
}

func TestBoundedPool_DefaultLimit(t *testing.T) {
	pool := NewBoundedPool(0)
	defer pool.Close()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestBoundedPool_RejectsAfterClose(t *testing.T) {
	pool := NewBoundedPool(2)
	pool.Close()

	err := pool.Submit(func() {})
	assert.Error(t, err)
}
