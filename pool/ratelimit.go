package pool

import (
	"context"

	"golang.org/x/time/rate"
)

// WithRateLimit caps the rate at which Submit hands submissions to the
// shared queue, using a token-bucket limiter (rps sustained, burst
// allowed above it). This throttles the producer side independently of
// however many workers are running, useful when the workload is driven
// by an external event source faster than downstream consumers (e.g. a
// database or external API the callables call out to) can tolerate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// waitForSubmitSlot blocks until the configured rate limiter (if any)
// admits one more submission, or ctx is done.
func (p *Pool) waitForSubmitSlot(ctx context.Context) error {
	if p.cfg.limiter == nil {
		return nil
	}
	return p.cfg.limiter.Wait(ctx)
}
