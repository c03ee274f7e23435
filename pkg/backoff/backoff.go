// Package backoff provides exponential backoff calculation and a bounded
// retry loop built on it.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Policy bounds a retry loop. MaxRetries counts retries after the first
// call, so MaxRetries=3 allows up to 4 calls.
type Policy struct {
	Config
	MaxRetries int
}

// RetryFunc is notified before each wait.
type RetryFunc func(retry int, err error, wait time.Duration)

// Retry calls fn until it succeeds, returns an error retryable rejects, the
// retry budget is spent, or ctx is done. It returns the number of retries
// performed and the last error.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, onRetry RetryFunc, fn func(context.Context) error) (int, error) {
	var lastErr error
	for retry := 0; ; retry++ {
		if retry > 0 {
			wait := Exponential(retry, &p.Config)
			if onRetry != nil {
				onRetry(retry, lastErr, wait)
			}
			if err := Sleep(ctx, wait); err != nil {
				return retry - 1, lastErr
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return retry, nil
		}
		if ctx.Err() != nil || !retryable(lastErr) || retry >= p.MaxRetries {
			return retry, lastErr
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
