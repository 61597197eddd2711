package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahrav/go-loom/domain"
	"github.com/ahrav/go-loom/ports"
)

// resilientProcessor wraps a raw processor with synchronous bounded
// retry. It attempts the processor up to 1 + maxRetries times, pausing
// retryBackoff between attempts, and returns the last captured error on
// exhaustion.
//
// The decorator knows nothing about timeouts; per-node deadlines are
// enforced by the scheduler around the whole task. It does honor
// context cancellation: a cancelled backoff pause propagates the
// context error immediately without further attempts.
type resilientProcessor[Req any] struct {
	node       string
	next       ports.Processor[Req]
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
}

// newResilientProcessor creates the retry decorator for a node. The
// compiler applies it only when governance configures a positive retry
// count.
func newResilientProcessor[Req any](
	node string,
	next ports.Processor[Req],
	maxRetries int,
	backoff time.Duration,
	logger zerolog.Logger,
) ports.Processor[Req] {
	return &resilientProcessor[Req]{
		node:       node,
		next:       next,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

// Process runs the wrapped processor with retry. Attempts are strictly
// sequential; there is no jitter or exponential growth, the configured
// backoff is applied verbatim between attempts.
func (r *resilientProcessor[Req]) Process(
	ctx context.Context,
	request Req,
	inputs domain.Inputs,
) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		value, err := r.next.Process(ctx, request, inputs)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == r.maxRetries {
			break
		}

		r.logger.Debug().
			Str("node", r.node).
			Int("attempt", attempt+1).
			Err(err).
			Msg("processor attempt failed, retrying")

		if r.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff):
				// Continue to next attempt.
			}
		}
	}

	return nil, lastErr
}
