package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-loom/domain"
)

func TestPacedProcessor_PacesAttempts(t *testing.T) {
	proc := returning("ok")
	// One token every 50ms, no burst headroom beyond the first token.
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	wrapped := newPacedProcessor[string]("n", proc, limiter)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := wrapped.Process(context.Background(), "req", domain.EmptyInputs())
		require.NoError(t, err)
	}

	// Second and third calls each waited for a token.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, proc.callCount())
}

func TestPacedProcessor_CancelledWaitSurfacesError(t *testing.T) {
	proc := returning("ok")
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	wrapped := newPacedProcessor[string]("n", proc, limiter)

	// Drain the only token.
	_, err := wrapped.Process(context.Background(), "req", domain.EmptyInputs())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = wrapped.Process(ctx, "req", domain.EmptyInputs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 1, proc.callCount())
}

func TestGovernance_RateLimiterWiredThroughCompile(t *testing.T) {
	proc := returning("paced")
	limiter := rate.NewLimiter(rate.Every(30*time.Millisecond), 1)

	cfg := NewGraphConfig[string, any]("paced").
		AddNodeWithGovernance("n", proc, &Governance[string]{RateLimiter: limiter}).
		WithWorkerPool(testPool(t)).
		WithTerminal(pickNode("n"))

	eng, err := New(cfg)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		result, err := eng.Apply(context.Background(), "req")
		require.NoError(t, err)
		assert.Equal(t, "paced", result)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
