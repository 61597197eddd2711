package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahrav/go-loom/domain"
	"github.com/ahrav/go-loom/ports"
)

// task is the per-invocation unit tracked for each node. Its fields are
// written exactly once, by the worker running the node (or by the
// scheduler when the pool rejects the task), and become visible to
// readers through the done channel close.
type task struct {
	id   string
	done chan struct{}

	// outcome is valid only when err is nil.
	outcome domain.Outcome
	err     error
}

// scheduler drives a single invocation of a compiled plan: it builds
// the memoized task table, submits every task to the worker pool,
// enforces the global deadline, and collects the successful results.
// A scheduler is used for exactly one invocation and never shared.
type scheduler[Req any] struct {
	plan     *ExecutionPlan[Req]
	pool     ports.WorkerPool
	request  Req
	logger   zerolog.Logger
	metrics  ports.MetricsCollector
	observer ports.ExecutionObserver

	// ctx governs every task of this invocation; cancel aborts all
	// outstanding work on failure or timeout.
	ctx    context.Context
	cancel context.CancelFunc

	// tasks memoizes node ID to task. It is written only by the
	// invoking goroutine during graph expansion, before the barrier;
	// worker goroutines never touch it.
	tasks map[string]*task

	failOnce sync.Once
	firstErr error
	// failedCh is closed after firstErr is recorded, waking the
	// barrier as soon as any task ends in an unrecovered error.
	failedCh chan struct{}

	inflight atomic.Int64
}

func newScheduler[Req any](
	plan *ExecutionPlan[Req],
	pool ports.WorkerPool,
	request Req,
	logger zerolog.Logger,
	metrics ports.MetricsCollector,
	observer ports.ExecutionObserver,
) *scheduler[Req] {
	return &scheduler[Req]{
		plan:     plan,
		pool:     pool,
		request:  request,
		logger:   logger,
		metrics:  metrics,
		observer: observer,
		tasks:    make(map[string]*task, len(plan.order)),
		failedCh: make(chan struct{}),
	}
}

// run executes the plan against the scheduler's request. It returns the
// result map of successful non-nil node values, or the first
// unrecovered failure with engine-internal wrappers stripped.
func (s *scheduler[Req]) run(ctx context.Context, globalTimeout time.Duration) (map[string]any, error) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	// Expand the whole task graph up front, on this goroutine. Tasks
	// start running as soon as they are submitted; expansion only
	// creates and wires them.
	for _, id := range s.plan.order {
		s.getOrCreateTask(id)
	}

	timer := time.NewTimer(globalTimeout)
	defer timer.Stop()

	for _, id := range s.plan.order {
		t := s.tasks[id]
		select {
		case <-t.done:
		case <-s.failedCh:
			s.cancel()
			return nil, s.surface(s.firstErr)
		case <-timer.C:
			s.cancel()
			s.logger.Warn().
				Str("graph", s.plan.name).
				Dur("timeout", globalTimeout).
				Msg("invocation exceeded global timeout")
			return nil, domain.ErrExecutionTimeout
		}
	}

	// Every task terminated before the deadline; a failure may still
	// have been recorded by a task that finished between barrier steps.
	if s.firstErr != nil {
		s.cancel()
		return nil, s.surface(s.firstErr)
	}

	results := make(map[string]any, len(s.tasks))
	for id, t := range s.tasks {
		if t.err == nil && t.outcome.Status == domain.StatusSuccess && t.outcome.Value != nil {
			results[id] = t.outcome.Value
		}
	}
	return results, nil
}

// surface strips engine-internal wrappers from the first unrecovered
// failure, logs it, and hands the root cause to the caller.
func (s *scheduler[Req]) surface(err error) error {
	root := domain.RootCause(err)
	s.logger.Error().
		Str("graph", s.plan.name).
		Err(root).
		Msg("invocation failed")
	return root
}

// getOrCreateTask returns the memoized task for a node, creating and
// submitting it first when absent. Parents are created before their
// child so a running task can await them without consulting shared
// state.
func (s *scheduler[Req]) getOrCreateTask(id string) *task {
	if t, ok := s.tasks[id]; ok {
		return t
	}

	parentIDs := s.plan.parents[id]
	parents := make([]*task, len(parentIDs))
	for i, pid := range parentIDs {
		parents[i] = s.getOrCreateTask(pid)
	}

	t := &task{id: id, done: make(chan struct{})}
	s.tasks[id] = t

	if err := s.pool.Submit(func() { s.runTask(t, parentIDs, parents) }); err != nil {
		// Pool rejection surfaces as a task failure.
		t.err = fmt.Errorf("node %s: worker pool rejected task: %w", id, err)
		close(t.done)
		s.fail(t.err)
	}
	return t
}

// runTask is the body submitted to the worker pool for one node. It
// applies the per-node deadline, runs the composite (await parents,
// skip propagation, edge predicates, node body), gives the fallback a
// chance to intercept any error, and publishes the task's disposition.
func (s *scheduler[Req]) runTask(t *task, parentIDs []string, parents []*task) {
	s.trackInflight(1)
	defer s.trackInflight(-1)

	gov := s.plan.governance[t.id]
	nodeCtx := s.ctx
	var timeout time.Duration
	if gov != nil && gov.Timeout > 0 {
		timeout = gov.Timeout
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(s.ctx, timeout)
		defer cancel()
	}

	outcome, err := s.composite(nodeCtx, t.id, gov, parentIDs, parents)

	// A node-deadline expiry is reported as the node's timeout, also when
	// a processor that ignored its context returned after the deadline;
	// an invocation-level cancellation is not.
	if timeout > 0 && nodeCtx.Err() == context.DeadlineExceeded && s.ctx.Err() == nil {
		outcome, err = domain.Outcome{}, &domain.NodeTimeoutError{Node: t.id, Timeout: timeout}
	}

	if err != nil {
		if gov != nil && gov.Fallback != nil && s.ctx.Err() == nil {
			value, fbErr := gov.Fallback(s.ctx, s.request, domain.EmptyInputs(), domain.RootCause(err))
			if fbErr != nil {
				err = &domain.FallbackError{Node: t.id, Err: fbErr}
			} else {
				outcome, err = domain.Success(value), nil
				s.count("node_fallback_total", t.id, "")
			}
		}
	}

	if err != nil {
		s.count("node_failure_total", t.id, "")
	} else if outcome.Skipped() {
		s.count("node_skipped_total", t.id, "")
	}

	t.outcome = outcome
	t.err = err
	if err != nil {
		s.fail(err)
	}
	close(t.done)
}

// composite implements the compose-after-parents logic: await every
// parent, propagate cascade failure and cascade skip, evaluate edge
// predicates in declared order, then run the node body.
func (s *scheduler[Req]) composite(
	ctx context.Context,
	id string,
	gov *Governance[Req],
	parentIDs []string,
	parents []*task,
) (domain.Outcome, error) {
	for _, pt := range parents {
		select {
		case <-pt.done:
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		}
	}

	// A failed parent fails this task before any value inspection;
	// the fallback may intercept the cascade below.
	for _, pt := range parents {
		if pt.err != nil {
			return domain.Outcome{}, &domain.CascadeError{Node: id, Err: pt.err}
		}
	}

	// Strict cascade skip: the first skipped parent short-circuits the
	// node before any edge predicate runs. Nil-valued successes are
	// valid but contribute nothing to the upstream view.
	parentResults := make(map[string]any, len(parents))
	for _, pt := range parents {
		if pt.outcome.Skipped() {
			return domain.Skipped(), nil
		}
		if pt.outcome.Value != nil {
			parentResults[pt.id] = pt.outcome.Value
		}
	}

	view := domain.NewInputs(parentResults)

	for _, pid := range parentIDs {
		predicate, ok := s.plan.predicates[routeKey(pid, id)]
		if !ok {
			continue
		}
		pass, err := predicate(ctx, s.request, view)
		if err != nil {
			return domain.Outcome{}, &domain.EdgeConditionError{From: pid, To: id, Err: err}
		}
		if !pass {
			return domain.Skipped(), nil
		}
	}

	if gov != nil && gov.Condition != nil {
		pass, err := gov.Condition(ctx, s.request, view)
		if err != nil {
			return domain.Outcome{}, &domain.EdgeConditionError{From: id, To: id, Err: err}
		}
		if !pass {
			return domain.Skipped(), nil
		}
	}

	return s.executeBody(ctx, id, view)
}

// executeBody invokes the node's (possibly decorated) processor and
// wraps any failure with the node's identity.
func (s *scheduler[Req]) executeBody(ctx context.Context, id string, view domain.Inputs) (domain.Outcome, error) {
	bodyCtx := ctx
	if s.observer != nil {
		bodyCtx = s.observer.OnNodeStart(ctx, id)
	}

	start := time.Now()
	value, err := s.plan.processors[id].Process(bodyCtx, s.request, view)
	elapsed := time.Since(start)

	if s.observer != nil {
		s.observer.OnNodeEnd(bodyCtx, id, elapsed, err)
	}
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordLatency("node_execute", elapsed, map[string]string{
			"graph": s.plan.name,
			"node":  id,
		})
		s.count("node_executions_total", id, status)
	}

	if err != nil {
		return domain.Outcome{}, &domain.NodeExecutionError{Node: id, Err: err}
	}
	return domain.Success(value), nil
}

// fail records the first unrecovered task error and wakes the barrier.
// Later failures, including the cancellation noise of tasks torn down
// by the first one, are ignored.
func (s *scheduler[Req]) fail(err error) {
	s.failOnce.Do(func() {
		s.firstErr = err
		close(s.failedCh)
	})
}

func (s *scheduler[Req]) trackInflight(delta int64) {
	n := s.inflight.Add(delta)
	if s.metrics != nil {
		s.metrics.RecordGauge("inflight_tasks", float64(n), map[string]string{
			"graph": s.plan.name,
		})
	}
}

func (s *scheduler[Req]) count(metric, node, status string) {
	if s.metrics == nil {
		return
	}
	labels := map[string]string{"graph": s.plan.name, "node": node}
	if status != "" {
		labels["status"] = status
	}
	s.metrics.RecordCounter(metric, 1, labels)
}
