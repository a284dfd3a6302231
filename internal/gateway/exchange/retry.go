package exchange

import (
	"context"
	"time"

	"helmsman/internal/fault"
	"helmsman/internal/logger"
)

// RetryPolicy bounds transport-level retries: MaxAttempts total tries with
// exponential backoff starting at BaseDelay, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 250 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// WithRetry runs fn until it succeeds, raises a non-retryable fault, or the
// attempt budget is spent. Only TRANSIENT_NETWORK and RATE_LIMIT faults are
// retried; everything else is returned immediately so a broken order never
// hits the exchange more than once.
func WithRetry(ctx context.Context, op string, p RetryPolicy, fn func() error) error {
	p = p.withDefaults()
	var last error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			logger.Debugf("%s: retry %d/%d after %s (%v)", op, attempt, p.MaxAttempts, delay, last)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fault.New(fault.TransientNetwork, op, ctx.Err())
			case <-timer.C:
			}
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		last = fn()
		if last == nil {
			return nil
		}
		if !fault.Retryable(fault.KindOf(last)) {
			return last
		}
	}
	return last
}
