package adserver

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/observability"
)

// RetryPolicy bounds retries of idempotent adapter calls.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}

// Retry runs fn until it succeeds, fails with a non-transient error or the
// attempt budget is spent. Only idempotent calls may be wrapped.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, logger *zap.Logger, metrics observability.MetricsRegistry, fn func() (T, error)) (T, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	operation := func() (T, error) {
		v, err := fn()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.IncrementAdapterRetry(op)
			logger.Warn("retrying ad server call",
				zap.String("op", op),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
}
