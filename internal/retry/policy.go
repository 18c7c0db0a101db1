// Package retry holds the single retry policy shared by page fetches and
// row writes.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"listing_sync/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = time.Second
)

// Policy retries an operation a bounded number of times with a fixed delay
// between attempts. Errors that do not report themselves retryable stop the
// loop immediately.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// NotifyFunc is called before each retry with the failed attempt number.
type NotifyFunc func(err error, attempt int, next time.Duration)

func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return p.DoNotify(ctx, op, nil)
}

func (p Policy) DoNotify(ctx context.Context, op func(ctx context.Context) error, notify NotifyFunc) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(maxAttempts-1)),
		ctx,
	)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		if notify != nil {
			notify(err, attempt, next)
		}
	})
	if err != nil && attempt > 1 {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return err
}
