package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storefront/pkg/log"
)

// Retry runs fn up to attempts times with a constant delay between failures.
// It returns the last error once attempts are exhausted, or ctx.Err() when cancelled.
func Retry(ctx context.Context, attempts int, delay time.Duration, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return fn()
	}, policy, func(err error, next time.Duration) {
		log.WithFields(map[string]interface{}{
			"op":      op,
			"attempt": attempt,
			"of":      attempts,
			"retryIn": next.String(),
			"error":   err.Error(),
		}).Warn("Attempt failed")
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
	}
}
