// Package engine provides the compile-and-execute kernel of the DAG
// execution engine: the graph configuration builder, the compiler that
// turns a declaration into an immutable execution plan, the resilience
// decorators, and the per-invocation scheduler.
package engine

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-loom/ports"
)

// DefaultGlobalTimeout bounds an invocation when the configuration does
// not set an explicit global timeout.
const DefaultGlobalTimeout = 60 * time.Second

// Governance holds the per-node control knobs: wall-time cap, bounded
// retry, request pacing, execution condition, and fallback. A nil
// governance means a node runs bare: no timeout, no retry, no fallback.
type Governance[Req any] struct {
	// Timeout caps the node task's wall-time, covering both the wait
	// for parents and the body. Zero means no per-node deadline.
	Timeout time.Duration

	// MaxRetries is the number of synchronous retry attempts after the
	// first failure. Zero disables the retry decorator entirely.
	MaxRetries int

	// RetryBackoff is the pause between retry attempts. Zero retries
	// back-to-back.
	RetryBackoff time.Duration

	// RateLimiter, when set, paces every processor attempt through a
	// shared token bucket. Limiters may be shared between nodes to
	// enforce a collective rate.
	RateLimiter *rate.Limiter

	// Condition, when set, gates the node's body after all incoming
	// edge predicates passed. Returning false skips the node.
	Condition ports.EdgePredicate[Req]

	// Fallback, when set, intercepts any task-level error and produces
	// a substitute value, rewriting the task to a success.
	Fallback ports.FallbackStrategy[Req]
}

// route is a declared directed edge. Routes are kept in declaration
// order; that order is observed when a child assembles its upstream
// view and when its edge predicates are evaluated.
type route struct {
	from string
	to   string
}

// GraphConfig accumulates the static declaration of a graph: nodes,
// routes, governance, and the engine-level collaborators. It is mutable
// until handed to New, which compiles it into an immutable plan.
//
// All mutating methods return the receiver so declarations can be
// chained:
//
//	cfg := engine.NewGraphConfig[Request, string]("checkout").
//	    AddNode("fetch", fetchProc).
//	    AddNode("price", priceProc).
//	    AddRoute("fetch", "price").
//	    WithWorkerPool(pool).
//	    WithTerminal(pickPrice)
//
// GraphConfig is not safe for concurrent mutation; build it on one
// goroutine and hand it to New.
type GraphConfig[Req, Res any] struct {
	name string

	processors map[string]ports.Processor[Req]
	// nodeOrder preserves registration order for deterministic
	// compilation and scheduling.
	nodeOrder []string

	// explicit holds governance set through AddNodeWithGovernance,
	// including explicit nils. Nodes absent from this map fall back to
	// defaultGovernance at compile time.
	explicit map[string]*Governance[Req]

	routes []route
	// routeSet provides O(1) duplicate route detection.
	// Key format: "from->to".
	routeSet   map[string]struct{}
	predicates map[string]ports.EdgePredicate[Req]

	defaultGovernance *Governance[Req]
	terminal          ports.TerminalStrategy[Req, Res]
	pool              ports.WorkerPool
	globalTimeout     time.Duration

	logger   zerolog.Logger
	metrics  ports.MetricsCollector
	observer ports.ExecutionObserver
}

// NewGraphConfig creates an empty graph declaration. The name labels
// the graph in logs, metrics, and traces.
func NewGraphConfig[Req, Res any](name string) *GraphConfig[Req, Res] {
	return &GraphConfig[Req, Res]{
		name:       name,
		processors: make(map[string]ports.Processor[Req]),
		explicit:   make(map[string]*Governance[Req]),
		routeSet:   make(map[string]struct{}),
		predicates: make(map[string]ports.EdgePredicate[Req]),
		logger:     zerolog.Nop(),
	}
}

// AddNode registers a node under the given ID. The node inherits the
// configuration's default governance, when one is set. Registering an
// ID twice overwrites the earlier registration; the last one wins.
func (c *GraphConfig[Req, Res]) AddNode(id string, processor ports.Processor[Req]) *GraphConfig[Req, Res] {
	if _, exists := c.processors[id]; !exists {
		c.nodeOrder = append(c.nodeOrder, id)
	}
	c.processors[id] = processor
	// A re-registration through AddNode reverts any earlier explicit
	// governance back to the default.
	delete(c.explicit, id)
	return c
}

// AddNodeWithGovernance registers a node with its own governance
// record. A nil governance opts the node out of governance entirely,
// including the configuration's default.
func (c *GraphConfig[Req, Res]) AddNodeWithGovernance(
	id string,
	processor ports.Processor[Req],
	gov *Governance[Req],
) *GraphConfig[Req, Res] {
	if _, exists := c.processors[id]; !exists {
		c.nodeOrder = append(c.nodeOrder, id)
	}
	c.processors[id] = processor
	c.explicit[id] = gov
	return c
}

// AddRoute declares a directed edge from parent to child with the
// default always-true predicate. Redeclaring an existing route is a
// no-op for the adjacency but clears any predicate attached earlier.
func (c *GraphConfig[Req, Res]) AddRoute(from, to string) *GraphConfig[Req, Res] {
	c.addRoute(from, to)
	delete(c.predicates, routeKey(from, to))
	return c
}

// AddRouteWhen declares a directed edge gated by the given predicate.
// The predicate is keyed by the (from, to) pair; declaring the same
// route again replaces the predicate, last one wins.
func (c *GraphConfig[Req, Res]) AddRouteWhen(
	from, to string,
	predicate ports.EdgePredicate[Req],
) *GraphConfig[Req, Res] {
	c.addRoute(from, to)
	if predicate != nil {
		c.predicates[routeKey(from, to)] = predicate
	}
	return c
}

func (c *GraphConfig[Req, Res]) addRoute(from, to string) {
	key := routeKey(from, to)
	if _, exists := c.routeSet[key]; exists {
		return
	}
	c.routes = append(c.routes, route{from: from, to: to})
	c.routeSet[key] = struct{}{}
}

// WithTerminal sets the terminal strategy that reduces the successful
// node values into the caller's result. Mandatory.
func (c *GraphConfig[Req, Res]) WithTerminal(terminal ports.TerminalStrategy[Req, Res]) *GraphConfig[Req, Res] {
	c.terminal = terminal
	return c
}

// WithDefaultGovernance sets the governance applied to every node that
// has none of its own.
func (c *GraphConfig[Req, Res]) WithDefaultGovernance(gov *Governance[Req]) *GraphConfig[Req, Res] {
	c.defaultGovernance = gov
	return c
}

// WithGlobalTimeout caps the wall-time of a whole invocation. When
// unset, DefaultGlobalTimeout applies.
func (c *GraphConfig[Req, Res]) WithGlobalTimeout(timeout time.Duration) *GraphConfig[Req, Res] {
	c.globalTimeout = timeout
	return c
}

// WithWorkerPool sets the pool that executes node tasks. Mandatory. The
// engine never shuts the pool down; its lifecycle belongs to the caller.
func (c *GraphConfig[Req, Res]) WithWorkerPool(pool ports.WorkerPool) *GraphConfig[Req, Res] {
	c.pool = pool
	return c
}

// WithLogger sets the logger used by the compiler and scheduler.
// Defaults to a no-op logger.
func (c *GraphConfig[Req, Res]) WithLogger(logger zerolog.Logger) *GraphConfig[Req, Res] {
	c.logger = logger
	return c
}

// WithMetrics sets an optional metrics collector. A nil collector
// disables collection.
func (c *GraphConfig[Req, Res]) WithMetrics(metrics ports.MetricsCollector) *GraphConfig[Req, Res] {
	c.metrics = metrics
	return c
}

// WithObserver sets an optional execution observer, typically a tracing
// bridge.
func (c *GraphConfig[Req, Res]) WithObserver(observer ports.ExecutionObserver) *GraphConfig[Req, Res] {
	c.observer = observer
	return c
}

// governanceFor resolves the effective governance for a node: an
// explicit record (including an explicit nil) wins over the default.
func (c *GraphConfig[Req, Res]) governanceFor(id string) *Governance[Req] {
	if gov, ok := c.explicit[id]; ok {
		return gov
	}
	return c.defaultGovernance
}

// routeKey builds the predicate table key for a directed edge.
func routeKey(from, to string) string {
	return from + "->" + to
}
