package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahrav/go-loom/domain"
	"github.com/ahrav/go-loom/ports"
)

// Engine is the two-method façade over the kernel: construct once from
// a finalized configuration, then apply to any number of requests. The
// compiled plan is immutable and invocations are fully isolated, so an
// Engine is safe for concurrent use.
type Engine[Req, Res any] struct {
	plan          *ExecutionPlan[Req]
	terminal      ports.TerminalStrategy[Req, Res]
	pool          ports.WorkerPool
	globalTimeout time.Duration

	logger   zerolog.Logger
	metrics  ports.MetricsCollector
	observer ports.ExecutionObserver
}

// New compiles the given configuration into an engine. Compilation
// validates the declaration eagerly: a worker pool and a terminal
// strategy are mandatory, and a cyclic graph is rejected here rather
// than at first use. The global timeout defaults to DefaultGlobalTimeout
// when unset.
func New[Req, Res any](cfg *GraphConfig[Req, Res]) (*Engine[Req, Res], error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is nil", domain.ErrInvalidConfiguration)
	}
	if cfg.pool == nil {
		return nil, fmt.Errorf("%w: worker pool is required", domain.ErrInvalidConfiguration)
	}
	if cfg.terminal == nil {
		return nil, fmt.Errorf("%w: terminal strategy is required", domain.ErrInvalidConfiguration)
	}

	timeout := cfg.globalTimeout
	if timeout <= 0 {
		timeout = DefaultGlobalTimeout
	}

	plan, err := compile(cfg)
	if err != nil {
		return nil, err
	}

	return &Engine[Req, Res]{
		plan:          plan,
		terminal:      cfg.terminal,
		pool:          cfg.pool,
		globalTimeout: timeout,
		logger:        cfg.logger,
		metrics:       cfg.metrics,
		observer:      cfg.observer,
	}, nil
}

// Plan exposes the compiled execution plan for inspection. The plan is
// immutable; its accessors return copies.
func (e *Engine[Req, Res]) Plan() *ExecutionPlan[Req] { return e.plan }

// Apply runs the plan against a single request and returns the terminal
// strategy's result. The invocation either produces that single result
// or a single error; no partial results escape.
//
// On the first unrecovered task failure, or when the global timeout
// fires, all outstanding tasks are cancelled and the invocation fails
// with the root cause (engine-internal wrappers stripped) or with
// domain.ErrExecutionTimeout respectively.
func (e *Engine[Req, Res]) Apply(ctx context.Context, request Req) (Res, error) {
	var zero Res

	start := time.Now()
	if e.observer != nil {
		ctx = e.observer.OnInvocationStart(ctx, e.plan.name)
	}

	sched := newScheduler(e.plan, e.pool, request, e.logger, e.metrics, e.observer)
	results, err := sched.run(ctx, e.globalTimeout)

	var res Res
	if err == nil {
		// Terminal strategy errors surface to the caller unwrapped.
		res, err = e.terminal(ctx, request, results)
	}

	elapsed := time.Since(start)
	if e.observer != nil {
		e.observer.OnInvocationEnd(ctx, e.plan.name, elapsed, err)
	}
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordLatency("invocation", elapsed, map[string]string{"graph": e.plan.name})
		e.metrics.RecordCounter("invocations_total", 1, map[string]string{
			"graph":  e.plan.name,
			"status": status,
		})
	}

	if err != nil {
		return zero, err
	}
	return res, nil
}
