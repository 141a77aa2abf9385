package upstream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/unstuckgg/voicegate/internal/observability"
)

// RetryConfig tunes the retry loop used for upstream calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth of the delay.
	MaxBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// Retry runs fn with exponential backoff until it succeeds, fails
// terminally, exhausts the attempts, or the context ends. Errors that
// IsRetryable rejects stop the loop immediately.
func Retry[T any](ctx context.Context, op string, cfg RetryConfig, logger zerolog.Logger, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialBackoff
	expBackoff.MaxInterval = cfg.MaxBackoff

	operation := func() (T, error) {
		result, err := fn()
		if err != nil && !IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			observability.RecordUpstreamRetry(op)
			logger.Warn().
				Err(err).
				Str("op", op).
				Dur("delay", delay).
				Msg("Retrying upstream call")
		}),
	)
}
