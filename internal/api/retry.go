package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/devimpact/devimpact-cli/internal/logger"
	"github.com/devimpact/devimpact-cli/internal/runner"
)

// RetryConfig controls how upstream calls are retried
type RetryConfig struct {
	MaxRetries      uint64
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRateLimitWait caps how long a single rate limit reset is waited for
	MaxRateLimitWait time.Duration
}

// DefaultRetryConfig returns the retry settings used by the CLI
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       4,
		AttemptTimeout:   60 * time.Second,
		InitialInterval:  time.Second,
		MaxInterval:      30 * time.Second,
		MaxRateLimitWait: 15 * time.Minute,
	}
}

// Retrier wraps upstream calls with exponential backoff on transient failures
type Retrier struct {
	cfg    RetryConfig
	logger *logger.Logger
}

// NewRetrier creates a retrier
func NewRetrier(cfg RetryConfig, log *logger.Logger) *Retrier {
	return &Retrier{cfg: cfg, logger: log.Component("retry")}
}

// Do runs fn until it succeeds, fails permanently, or retries run out.
// Each attempt gets its own timeout derived from ctx.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}

		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) && !rateLimitErr.ResetTime.IsZero() {
			wait := time.Until(rateLimitErr.ResetTime)
			if wait > r.cfg.MaxRateLimitWait {
				wait = r.cfg.MaxRateLimitWait
			}
			if wait > 0 {
				r.logger.Warn("rate limit hit, waiting for reset",
					"op", op, "reset", rateLimitErr.ResetTime.Format(time.RFC3339), "wait", wait.Round(time.Second))
				if err := sleep(ctx, wait); err != nil {
					return backoff.Permanent(err)
				}
			}
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		r.logger.Warn("upstream call failed, retrying",
			"op", op, "attempt", attempt, "retry_in", next.Round(time.Millisecond), "error", err)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

func (r *Retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// IsTransient reports whether err is worth retrying: timeouts, 5xx, 429 and rate limits
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError ||
			httpErr.StatusCode == http.StatusTooManyRequests
	}

	return errors.Is(err, runner.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
