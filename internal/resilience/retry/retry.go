// Package retry provides retry logic with exponential backoff and jitter.
// It helps handle transient failures gracefully by automatically retrying failed operations.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"clinic-backend/internal/observability/logging"
)

// Retrier runs operations under a Policy. The zero value is not usable; use New.
type Retrier struct {
	clock  quartz.Clock
	logger *slog.Logger
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithClock sets the clock used for inter-attempt waits.
func WithClock(clock quartz.Clock) Option {
	return func(r *Retrier) {
		r.clock = clock
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retrier) {
		r.logger = logger
	}
}

// New creates a Retrier backed by the real clock and slog.Default().
func New(opts ...Option) *Retrier {
	r := &Retrier{
		clock:  quartz.NewReal(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRetrier = New()

// Do executes op under p using the default Retrier.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	return Run(ctx, defaultRetrier, p, op)
}

// DoErr is Do for operations that only return an error.
func DoErr(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Run(ctx, defaultRetrier, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Wrap returns op with p pre-bound: every call of the returned function is
// retried under p.
func Wrap[A, T any](op func(ctx context.Context, arg A) (T, error), p Policy) func(ctx context.Context, arg A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		return Do(ctx, p, func(ctx context.Context) (T, error) {
			return op(ctx, arg)
		})
	}
}

// Do executes op under p using r's clock and logger.
func (r *Retrier) Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Run(ctx, r, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run executes op until it succeeds, fails with a non-retryable error, or
// p.MaxRetries retries have been used. The last error is returned unchanged.
// If ctx is done while waiting, ctx.Err() is returned joined with the last error.
//
// A logger carried in ctx (see logging.WithLogger) takes precedence over r's.
func Run[T any](ctx context.Context, r *Retrier, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := logging.FromContextOr(ctx, r.logger)

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)

		// Success - return immediately
		if err == nil {
			if attempt > 0 {
				logger.InfoContext(ctx, "operation succeeded after retry",
					slog.Int("attempt", attempt+1))
			}
			return result, nil
		}

		if attempt >= p.MaxRetries {
			if p.MaxRetries > 0 {
				logger.WarnContext(ctx, "retry attempts exhausted",
					slog.Int("attempts", attempt+1),
					slog.Any("error", err))
			}
			return zero, err
		}

		if ctx.Err() != nil || !IsRetryable(err, p) {
			logger.DebugContext(ctx, "non-retryable error, aborting",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			return zero, err
		}

		delay := CalculateDelay(attempt, p.BaseDelay, p.MaxDelay, p.Multiplier)
		notify(ctx, logger, p.OnRetry, attempt+1, err, delay)

		logger.WarnContext(ctx, "operation failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", p.MaxRetries),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		if waitErr := r.wait(ctx, delay); waitErr != nil {
			return zero, fmt.Errorf("retry aborted: %w (last error: %w)", waitErr, err)
		}
	}
}

// wait suspends the calling goroutine for d or until ctx is done.
func (r *Retrier) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := r.clock.NewTimer(d, "retry", "wait")
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify calls fn, recovering from any panic so an observer cannot break the loop.
func notify(ctx context.Context, logger *slog.Logger, fn func(int, error, time.Duration), attempt int, err error, delay time.Duration) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "retry observer panicked",
				slog.Int("attempt", attempt),
				slog.Any("panic", rec))
		}
	}()
	fn(attempt, err, delay)
}
