package utils

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

// RetryConfig controls how a failed delivery attempt is retried.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// AttemptTimeout bounds a single attempt.
	AttemptTimeout time.Duration
	// RetryableErrors are lower-case substrings of retryable error messages.
	RetryableErrors []string
	// OnRetry, when set, is called before waiting for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryableFunc defines the signature for operations that can be retried.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// DeliveryRetryConfig returns the retry policy of telemetry transports:
// short delays so a flush during shutdown is not held up for long.
func DeliveryRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 10 * time.Second,
		RetryableErrors: []string{
			"connection reset",
			"connection refused",
			"broken pipe",
			"unexpected eof",
			"rate limit",
			"too many requests",
			"service unavailable",
			"bad gateway",
		},
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryableError reports whether err should be retried: timeouts always
// are, permanent and cancellation errors never are, anything else only when
// its message matches one of patterns.
func IsRetryableError(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range patterns {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// Backoff returns the wait before attempt+1, without jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// WithRetry runs operation until it succeeds, returns a non-retryable error,
// runs out of attempts or ctx is done.
func WithRetry[T any](ctx context.Context, operation RetryableFunc[T], config RetryConfig) (T, error) {
	var zero T
	attempts := max(config.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if config.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, config.AttemptTimeout)
		}
		result, err := operation(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts || !IsRetryableError(err, config.RetryableErrors) {
			break
		}

		delay := config.Backoff(attempt)
		if jitter := int64(delay) / 10; jitter > 0 {
			delay += time.Duration(rand.Int64N(jitter))
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		}
	}
	return zero, lastErr
}
