package engine

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-loom/domain"
	"github.com/ahrav/go-loom/ports"
)

// pacedProcessor paces processor attempts through a token bucket.
// Limiters may be shared between nodes, in which case the bucket
// enforces a collective rate across the whole graph.
//
// The pacer sits inside the retry decorator so every retry attempt
// waits for its own token.
type pacedProcessor[Req any] struct {
	node    string
	next    ports.Processor[Req]
	limiter *rate.Limiter
}

// newPacedProcessor creates the pacing decorator for a node. The
// compiler applies it only when governance carries a limiter.
func newPacedProcessor[Req any](
	node string,
	next ports.Processor[Req],
	limiter *rate.Limiter,
) ports.Processor[Req] {
	return &pacedProcessor[Req]{node: node, next: next, limiter: limiter}
}

// Process waits for rate limit permission before forwarding to the
// wrapped processor. A wait aborted by context cancellation or by a
// deadline shorter than the bucket's refill interval surfaces as a
// processor error.
func (p *pacedProcessor[Req]) Process(
	ctx context.Context,
	request Req,
	inputs domain.Inputs,
) (any, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return p.next.Process(ctx, request, inputs)
}
