package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-loom/domain"
	"github.com/ahrav/go-loom/ports"
)

func TestScheduler_EachNodeRunsAtMostOnce(t *testing.T) {
	// A is a parent of three nodes; memoization must still run its
	// body exactly once per invocation.
	procA := returning("A")
	cfg := NewGraphConfig[string, map[string]any]("memo").
		AddNode("A", procA).
		AddNode("B", returning("B")).
		AddNode("C", returning("C")).
		AddNode("D", returning("D")).
		AddRoute("A", "B").
		AddRoute("A", "C").
		AddRoute("A", "D").
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.Apply(context.Background(), "request")
	require.NoError(t, err)
	assert.Equal(t, 1, procA.callCount())

	_, err = eng.Apply(context.Background(), "request")
	require.NoError(t, err)
	assert.Equal(t, 2, procA.callCount())
}

func TestScheduler_ChildStartsAfterParentCompletes(t *testing.T) {
	var mu sync.Mutex
	var order []string

	record := func(id string) *mockProcessor {
		return &mockProcessor{fn: func(context.Context, string, domain.Inputs) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id, nil
		}}
	}

	cfg := NewGraphConfig[string, map[string]any]("ordering").
		AddNode("parent", record("parent")).
		AddNode("child", record("child")).
		AddRoute("parent", "child").
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.Apply(context.Background(), "request")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"parent", "child"}, order)
}

func TestScheduler_CascadeFailureSurfacesRootCause(t *testing.T) {
	rootErr := errors.New("connection refused")
	bodyB := returning("B")
	bodyC := returning("C")

	cfg := NewGraphConfig[string, map[string]any]("cascadefail").
		AddNode("A", &mockProcessor{fn: func(context.Context, string, domain.Inputs) (any, error) {
			return nil, rootErr
		}}).
		AddNode("B", bodyB).
		AddNode("C", bodyC).
		AddRoute("A", "B").
		AddRoute("B", "C").
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.Apply(context.Background(), "request")
	require.Error(t, err)

	// The cascade wrappers are stripped; the caller sees the node
	// failure itself.
	var nodeErr *domain.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "A", nodeErr.Node)
	assert.True(t, errors.Is(err, rootErr))

	var cascade *domain.CascadeError
	assert.False(t, errors.As(err, &cascade))
}

func TestScheduler_EdgePredicateErrorFailsTask(t *testing.T) {
	predErr := errors.New("predicate exploded")

	cfg := NewGraphConfig[string, map[string]any]("prederr").
		AddNode("A", returning("A")).
		AddNode("B", returning("B")).
		AddRouteWhen("A", "B", func(context.Context, string, domain.Inputs) (bool, error) {
			return false, predErr
		}).
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.Apply(context.Background(), "request")
	require.Error(t, err)

	var edgeErr *domain.EdgeConditionError
	require.ErrorAs(t, err, &edgeErr)
	assert.Equal(t, "A", edgeErr.From)
	assert.Equal(t, "B", edgeErr.To)
	assert.True(t, errors.Is(err, predErr))
}

func TestScheduler_FallbackInterceptsCascade(t *testing.T) {
	rootErr := errors.New("upstream boom")

	var observedCause error
	var mu sync.Mutex

	cfg := NewGraphConfig[string, map[string]any]("cascadefallback").
		AddNode("A", &mockProcessor{fn: func(context.Context, string, domain.Inputs) (any, error) {
			return nil, rootErr
		}}).
		AddNodeWithGovernance("B", returning("B"), &Governance[string]{
			Fallback: func(_ context.Context, _ string, _ domain.Inputs, cause error) (any, error) {
				mu.Lock()
				observedCause = cause
				mu.Unlock()
				return "recovered", nil
			},
		}).
		AddRoute("A", "B").
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	// A's own failure is unmasked, so the invocation still fails; the
	// child's fallback nevertheless observes the stripped root cause.
	_, err = eng.Apply(context.Background(), "request")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rootErr))

	mu.Lock()
	defer mu.Unlock()
	if observedCause != nil {
		assert.True(t, errors.Is(observedCause, rootErr))
	}
}

func TestScheduler_FallbackFailureWrapsCause(t *testing.T) {
	fbErr := errors.New("fallback exploded")

	cfg := NewGraphConfig[string, map[string]any]("fallbackfail").
		AddNodeWithGovernance("broken", &mockProcessor{fn: func(context.Context, string, domain.Inputs) (any, error) {
			return nil, errors.New("boom")
		}}, &Governance[string]{
			Fallback: func(context.Context, string, domain.Inputs, error) (any, error) {
				return nil, fbErr
			},
		}).
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.Apply(context.Background(), "request")
	require.Error(t, err)

	var fallbackErr *domain.FallbackError
	require.ErrorAs(t, err, &fallbackErr)
	assert.Equal(t, "broken", fallbackErr.Node)
	assert.True(t, errors.Is(err, fbErr))
}

func TestScheduler_NilValuedSuccessOmitted(t *testing.T) {
	childSawParent := false
	var mu sync.Mutex

	cfg := NewGraphConfig[string, map[string]any]("nilvalue").
		AddNode("A", returning(nil)).
		AddNode("B", &mockProcessor{fn: func(_ context.Context, _ string, in domain.Inputs) (any, error) {
			mu.Lock()
			childSawParent = in.Has("A")
			mu.Unlock()
			return "B", nil
		}}).
		AddRoute("A", "B").
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	results, err := eng.Apply(context.Background(), "request")
	require.NoError(t, err)

	// A succeeded with nil: absent from both the child's view and the
	// result map.
	assert.Equal(t, map[string]any{"B": "B"}, results)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, childSawParent)
}

func TestScheduler_NodeConditionSkips(t *testing.T) {
	body := returning("gated")

	cfg := NewGraphConfig[string, map[string]any]("condition").
		AddNodeWithGovernance("gated", body, &Governance[string]{
			Condition: func(_ context.Context, req string, _ domain.Inputs) (bool, error) {
				return req == "go", nil
			},
		}).
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	results, err := eng.Apply(context.Background(), "stop")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, body.callCount())

	results, err = eng.Apply(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"gated": "gated"}, results)
}

func TestScheduler_ParentOrderMatchesRouteDeclaration(t *testing.T) {
	var mu sync.Mutex
	var evaluated []string

	tracingPredicate := func(edge string) ports.EdgePredicate[string] {
		return func(context.Context, string, domain.Inputs) (bool, error) {
			mu.Lock()
			evaluated = append(evaluated, edge)
			mu.Unlock()
			return true, nil
		}
	}

	cfg := NewGraphConfig[string, map[string]any]("parentorder").
		AddNode("left", returning("L")).
		AddNode("right", returning("R")).
		AddNode("join", returning("J")).
		AddRouteWhen("left", "join", tracingPredicate("left->join")).
		AddRouteWhen("right", "join", tracingPredicate("right->join")).
		WithWorkerPool(testPool(t)).
		WithTerminal(allResults)

	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.Apply(context.Background(), "request")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"left->join", "right->join"}, evaluated)
}

func TestScheduler_CallerCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := NewGraphConfig[string, any]("callercancel").
		AddNode("slow", sleeping(2*time.Second, "never")).
		WithWorkerPool(testPool(t)).
		WithTerminal(pickNode("slow"))

	eng, err := New(cfg)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = eng.Apply(ctx, "request")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
}

func TestScheduler_PoolRejectionFailsInvocation(t *testing.T) {
	cfg := NewGraphConfig[string, any]("rejected").
		AddNode("A", returning("A")).
		WithWorkerPool(rejectingPool{}).
		WithTerminal(pickNode("A"))

	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.Apply(context.Background(), "request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker pool rejected")
}

// rejectingPool refuses every submission, simulating a saturated or
// closed pool.
type rejectingPool struct{}

func (rejectingPool) Submit(func()) error { return errors.New("pool saturated") }
