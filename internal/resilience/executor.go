package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"clinic-backend/internal/observability/logging"
	"clinic-backend/internal/observability/tracing"
	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/retry"
	"clinic-backend/internal/resilience/stats"
)

// Call outcomes recorded on spans and in logs.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Executor is the single entry point for resilient calls. Each call is gated
// once by the breaker for its operation name, retried inside that gate, and
// recorded in the stats tracker.
type Executor struct {
	Breakers *circuitbreaker.Registry
	Stats    *stats.Tracker
	Retrier  *retry.Retrier
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// Policies and BreakerConfigs are per-operation defaults used when a call
	// passes no WithPolicy / WithBreakerConfig option.
	Policies       map[string]retry.Policy
	BreakerConfigs map[string]circuitbreaker.Config
}

// New creates an Executor with fresh breakers and stats, logging to logger.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Breakers:       circuitbreaker.NewRegistry(circuitbreaker.WithLogger(logger)),
		Stats:          stats.NewTracker(),
		Retrier:        retry.New(retry.WithLogger(logger)),
		Logger:         logger,
		Tracer:         tracing.GetTracer(),
		Policies:       make(map[string]retry.Policy),
		BreakerConfigs: make(map[string]circuitbreaker.Config),
	}
}

var (
	defaultOnce     sync.Once
	defaultExecutor *Executor
)

// Default returns the process-wide Executor, created on first use.
func Default() *Executor {
	defaultOnce.Do(func() {
		defaultExecutor = New(slog.Default())
	})
	return defaultExecutor
}

// Option overrides the per-operation defaults for a single call.
type Option func(*callOptions)

type callOptions struct {
	policy  retry.Policy
	breaker *circuitbreaker.Config
}

// WithPolicy sets the retry policy for the call.
func WithPolicy(p retry.Policy) Option {
	return func(o *callOptions) {
		o.policy = p
	}
}

// WithBreakerConfig sets the breaker config used if this call creates the
// operation's breaker. It has no effect on an existing breaker.
func WithBreakerConfig(cfg circuitbreaker.Config) Option {
	return func(o *callOptions) {
		o.breaker = &cfg
	}
}

// Presets returns options applying p and cfg to calls named name, skipping
// whichever of the two ex already has a per-operation default for.
func (ex *Executor) Presets(name string, p retry.Policy, cfg circuitbreaker.Config) []Option {
	var opts []Option
	if _, ok := ex.Policies[name]; !ok {
		opts = append(opts, WithPolicy(p))
	}
	if _, ok := ex.BreakerConfigs[name]; !ok {
		opts = append(opts, WithBreakerConfig(cfg))
	}
	return opts
}

func (ex *Executor) resolve(name string, opts []Option) callOptions {
	o := callOptions{policy: retry.DefaultPolicy()}
	if p, ok := ex.Policies[name]; ok {
		o.policy = p
	}
	if cfg, ok := ex.BreakerConfigs[name]; ok {
		o.breaker = &cfg
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (ex *Executor) logger() *slog.Logger {
	if ex.Logger != nil {
		return ex.Logger
	}
	return slog.Default()
}

func (ex *Executor) tracer() trace.Tracer {
	if ex.Tracer != nil {
		return ex.Tracer
	}
	return tracing.GetTracer()
}

// Execute runs op as operation name. If the breaker for name is open the call
// is rejected with a *circuitbreaker.CircuitOpenError and op never runs.
// Otherwise op is retried under the resolved policy and the final outcome is
// reported once to the breaker and the stats tracker.
func Execute[T any](ctx context.Context, ex *Executor, name string, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	call := ex.resolve(name, opts)

	ctx, span := ex.tracer().Start(ctx, "resilience.execute",
		trace.WithAttributes(attribute.String("resilience.operation", name)))
	defer span.End()

	ctx = logging.ContextWithCallID(ctx, uuid.NewString())
	logger := logging.WithCallID(ctx, ex.logger()).With(slog.String("operation", name))
	ctx = logging.WithLogger(ctx, logger)

	var (
		attempts int
		invoked  bool
	)
	policy := call.policy
	observer := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("resilience.attempt", attempt),
			attribute.String("resilience.delay", delay.String())))
		if observer != nil {
			observer(attempt, err, delay)
		}
	}

	var cfg []circuitbreaker.Config
	if call.breaker != nil {
		cfg = append(cfg, *call.breaker)
	}

	start := time.Now()
	out, err := circuitbreaker.Execute(ctx, ex.Breakers, name, func(ctx context.Context) (T, error) {
		invoked = true
		return retry.Run(ctx, ex.Retrier, policy, func(ctx context.Context) (T, error) {
			attempts++
			return op(ctx)
		})
	}, cfg...)
	elapsed := time.Since(start)

	// Only attempts that actually ran count; a wait cut short by ctx does not.
	retries := max(attempts-1, 0)

	ex.Stats.Track(name, err == nil, retries)

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case !invoked && errors.Is(err, circuitbreaker.ErrCircuitOpen):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeFailure
	}

	span.SetAttributes(
		attribute.Int("resilience.retries", retries),
		attribute.String("resilience.outcome", outcome))

	switch outcome {
	case OutcomeSuccess:
		logger.DebugContext(ctx, "call succeeded",
			slog.Int("retries", retries),
			slog.Duration("duration", elapsed))
	case OutcomeRejected:
		span.SetStatus(codes.Error, "circuit open")
		logger.WarnContext(ctx, "call rejected, circuit open")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "call failed",
			slog.Int("retries", retries),
			slog.Duration("duration", elapsed),
			slog.Any("error", err))
	}

	return out, err
}

// ExecuteErr is Execute for operations that only return an error.
func ExecuteErr(ctx context.Context, ex *Executor, name string, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Execute(ctx, ex, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}
