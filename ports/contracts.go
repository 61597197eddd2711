// Package ports defines the contracts between the execution kernel and
// its external collaborators: node business logic, edge predicates,
// fallback producers, terminal reducers, the worker pool, and
// observability sinks. These interfaces enable dependency inversion and
// make the engine testable without any real infrastructure.
package ports

import (
	"context"

	"github.com/ahrav/go-loom/domain"
)

// Processor is the unit of work owned by a node. It receives the
// invocation's request value and a read-only view over the results of
// the node's parents, and produces a value for downstream nodes.
//
// Processors should be stateless and safe for concurrent use: a single
// compiled plan is shared across invocations, and sibling nodes run in
// parallel. Processors should respect context cancellation and return
// promptly when the invocation is aborted; a processor that ignores its
// context can outlive its task and hold a pool worker.
//
// The returned value may be nil. A nil success is valid but contributes
// nothing to the result map or to downstream input views.
type Processor[Req any] interface {
	// Process performs the node's work. Any error is wrapped by the
	// scheduler with the node's identity before propagating.
	Process(ctx context.Context, request Req, inputs domain.Inputs) (any, error)
}

// ProcessorFunc adapts an ordinary function to the Processor interface.
type ProcessorFunc[Req any] func(ctx context.Context, request Req, inputs domain.Inputs) (any, error)

// Process implements Processor by calling the function itself.
func (f ProcessorFunc[Req]) Process(ctx context.Context, request Req, inputs domain.Inputs) (any, error) {
	return f(ctx, request, inputs)
}

// EdgePredicate gates a single edge at runtime. It is evaluated after
// every parent of the target node has completed, against the request
// and the assembled parent results. Returning false skips the target
// node (and, by cascade, all of its descendants); returning an error
// fails the target's task.
type EdgePredicate[Req any] func(ctx context.Context, request Req, inputs domain.Inputs) (bool, error)

// FallbackStrategy produces a substitute value for a node whose task
// failed for any reason: processor error, per-node timeout, edge
// predicate error, or an upstream failure that cascaded into the node.
//
// The inputs view passed to a fallback is always empty. Once a task has
// failed, parent outputs are unavailable or incoherent; the contract is
// that a fallback works from the original request and the cause alone.
type FallbackStrategy[Req any] func(ctx context.Context, request Req, inputs domain.Inputs, cause error) (any, error)

// TerminalStrategy reduces the set of successful node values into the
// caller's final result. It receives exactly the IDs whose tasks
// completed successfully with a non-nil value; skipped nodes and
// nil-valued successes are absent. Any error it returns surfaces to the
// caller unwrapped.
type TerminalStrategy[Req, Res any] func(ctx context.Context, request Req, results map[string]any) (Res, error)
