package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ahrav/go-loom/domain"
	"github.com/ahrav/go-loom/ports"
)

// ExecutionPlan is the immutable product of compilation: the validated
// node set, the reverse-dependency map, the decorated processors, and
// the governance and predicate tables. A single plan is shared by every
// invocation of the engine that produced it and must never be mutated.
type ExecutionPlan[Req any] struct {
	name string

	// order lists every node in registration order. It drives
	// deterministic task construction and the barrier's wait order.
	order []string

	// parents maps a node to its parent IDs in route-declaration
	// order. Nodes without incoming routes map to an empty slice.
	parents map[string][]string

	// processors holds each node's unit of work after resilience
	// decoration.
	processors map[string]ports.Processor[Req]

	// governance holds the effective governance per node. Ungoverned
	// nodes are absent.
	governance map[string]*Governance[Req]

	// predicates holds edge predicates keyed "from->to". Routes
	// without a predicate are unconditionally traversed.
	predicates map[string]ports.EdgePredicate[Req]
}

// Name returns the graph name the plan was compiled from.
func (p *ExecutionPlan[Req]) Name() string { return p.name }

// Nodes returns the node IDs in registration order. The returned slice
// is a copy and can be safely modified.
func (p *ExecutionPlan[Req]) Nodes() []string {
	nodes := make([]string, len(p.order))
	copy(nodes, p.order)
	return nodes
}

// Parents returns the parent IDs of the given node in route-declaration
// order. The returned slice is a copy.
func (p *ExecutionPlan[Req]) Parents(id string) []string {
	parents := make([]string, len(p.parents[id]))
	copy(parents, p.parents[id])
	return parents
}

// compile validates a graph configuration and freezes it into an
// execution plan. Compilation is pure and deterministic: the same
// configuration always yields an equivalent plan.
//
// Routes whose endpoints are not both registered nodes are silently
// dropped. A graph whose nodes cannot all be drained by Kahn's
// algorithm fails with a compile error wrapping ErrCyclicGraph.
func compile[Req, Res any](cfg *GraphConfig[Req, Res]) (*ExecutionPlan[Req], error) {
	// Keep only routes with registered endpoints; everything downstream
	// works off this filtered set.
	edges := make([]route, 0, len(cfg.routes))
	for _, r := range cfg.routes {
		if _, ok := cfg.processors[r.from]; !ok {
			continue
		}
		if _, ok := cfg.processors[r.to]; !ok {
			continue
		}
		edges = append(edges, r)
	}

	if err := checkAcyclic(cfg.nodeOrder, edges); err != nil {
		return nil, err
	}

	// Build the reverse-dependency map in route-declaration order.
	parents := make(map[string][]string, len(cfg.nodeOrder))
	for _, id := range cfg.nodeOrder {
		parents[id] = []string{}
	}
	for _, r := range edges {
		parents[r.to] = append(parents[r.to], r.from)
	}

	governance := make(map[string]*Governance[Req], len(cfg.nodeOrder))
	processors := make(map[string]ports.Processor[Req], len(cfg.nodeOrder))
	for _, id := range cfg.nodeOrder {
		proc := cfg.processors[id]
		gov := cfg.governanceFor(id)
		if gov != nil {
			governance[id] = gov
			proc = decorate(id, proc, gov, cfg.logger)
		}
		processors[id] = proc
	}

	predicates := make(map[string]ports.EdgePredicate[Req], len(cfg.predicates))
	for key, pred := range cfg.predicates {
		predicates[key] = pred
	}

	order := make([]string, len(cfg.nodeOrder))
	copy(order, cfg.nodeOrder)

	cfg.logger.Debug().
		Str("graph", cfg.name).
		Int("nodes", len(order)).
		Int("routes", len(edges)).
		Msg("graph compiled")

	return &ExecutionPlan[Req]{
		name:       cfg.name,
		order:      order,
		parents:    parents,
		processors: processors,
		governance: governance,
		predicates: predicates,
	}, nil
}

// decorate wraps a raw processor with the resilience layers its
// governance asks for. The rate limiter sits innermost so every retry
// attempt is paced; the retry decorator wraps it.
func decorate[Req any](
	id string,
	proc ports.Processor[Req],
	gov *Governance[Req],
	logger zerolog.Logger,
) ports.Processor[Req] {
	if gov.RateLimiter != nil {
		proc = newPacedProcessor(id, proc, gov.RateLimiter)
	}
	if gov.MaxRetries > 0 {
		proc = newResilientProcessor(id, proc, gov.MaxRetries, gov.RetryBackoff, logger)
	}
	return proc
}

// checkAcyclic runs Kahn's algorithm over the filtered edge set and
// fails when the graph cannot be fully drained, which indicates a
// cycle.
func checkAcyclic(nodes []string, edges []route) error {
	inDegree := make(map[string]int, len(nodes))
	children := make(map[string][]string, len(nodes))
	for _, id := range nodes {
		inDegree[id] = 0
	}
	for _, r := range edges {
		inDegree[r.to]++
		children[r.from] = append(children[r.from], r.to)
	}

	queue := make([]string, 0, len(nodes))
	for _, id := range nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	drained := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		drained++

		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if drained != len(nodes) {
		return &domain.CompileError{
			Reason: fmt.Sprintf("drained %d of %d nodes", drained, len(nodes)),
			Err:    domain.ErrCyclicGraph,
		}
	}
	return nil
}
