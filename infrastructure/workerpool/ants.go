package workerpool

import (
	"fmt"

	"github.com/panjf2000/ants/v2"

	"github.com/ahrav/go-loom/ports"
)

// AntsPool adapts a panjf2000/ants goroutine pool to the
// ports.WorkerPool contract. ants reuses workers across tasks, which
// keeps per-task overhead low for high-frequency invocations.
type AntsPool struct {
	pool *ants.Pool
}

// NewAntsPool creates an ants-backed pool with the given worker count.
// The pool blocks submissions while saturated rather than rejecting
// them, matching the engine's expectation that admission waits for
// capacity.
func NewAntsPool(size int) (*AntsPool, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	return &AntsPool{pool: pool}, nil
}

// WrapAntsPool adapts an existing ants pool the caller already manages.
func WrapAntsPool(pool *ants.Pool) *AntsPool {
	return &AntsPool{pool: pool}
}

// Submit schedules fn on the underlying pool. Submission failures
// (a released pool, or a non-blocking pool at capacity) are returned
// to the scheduler, which surfaces them as task failures.
func (p *AntsPool) Submit(fn func()) error {
	if err := p.pool.Submit(fn); err != nil {
		return fmt.Errorf("ants submit: %w", err)
	}
	return nil
}

// Release shuts the underlying pool down. The pool's lifecycle belongs
// to the caller; the engine never invokes this.
func (p *AntsPool) Release() {
	p.pool.Release()
}

// Compile-time verification that AntsPool implements WorkerPool.
var _ ports.WorkerPool = (*AntsPool)(nil)
