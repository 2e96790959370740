package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/clearspan/lcaflow/internal/resilience"
)

// LimitedClient wraps a Client with a token-bucket rate limiter and a
// circuit breaker. All model calls made by the pipeline go through one
// shared LimitedClient so a degraded API slows the whole job down instead
// of tripping per-file failures.
type LimitedClient struct {
	inner   Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewLimitedClient wraps inner with the given requests-per-second budget.
func NewLimitedClient(inner Client, perSec float64, burst int) *LimitedClient {
	if perSec <= 0 {
		perSec = 5
	}
	if burst <= 0 {
		burst = int(perSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &LimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitConfig{
			ShouldTrip: resilience.IsTransient,
		}),
	}
}

// CreateMessage waits for a rate token, then runs the call through the
// circuit breaker.
func (c *LimitedClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: rate limiter wait")
	}
	return resilience.BreakerVal(ctx, c.breaker, func(ctx context.Context) (*MessageResponse, error) {
		return c.inner.CreateMessage(ctx, req)
	})
}
