package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/sony/gobreaker"
)

// Registry holds one independent breaker per operation name. Breakers are
// created lazily on first use and live until Reset.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*breaker

	defaults Config
	clock    quartz.Clock
	logger   *slog.Logger
}

// breaker pairs a gobreaker with the bookkeeping gobreaker does not expose.
// state mirrors the last transition gobreaker reported. gobreaker's own
// State() performs the open to half-open transition when read, so snapshots
// use the mirror and leave that transition to the next call.
type breaker struct {
	cb     *gobreaker.CircuitBreaker
	config Config
	state  atomic.Int32

	mu          sync.Mutex
	lastFailure time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultConfig sets the config used for breakers created without one.
func WithDefaultConfig(cfg Config) RegistryOption {
	return func(r *Registry) {
		r.defaults = cfg
	}
}

// WithClock sets the clock used to stamp failures in snapshots. It does not
// drive the reset timeout, which gobreaker measures on the wall clock.
func WithClock(clock quartz.Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithLogger sets the logger used for state change events.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*breaker),
		defaults: DefaultConfig(),
		clock:    quartz.NewReal(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs op through the breaker registered under name, creating it with
// cfg (or the registry default) on first use. Config passed for an existing
// breaker is ignored.
//
// If the breaker rejects the call, op is not invoked and a *CircuitOpenError
// is returned. Otherwise op's result and error are returned unchanged.
func Execute[T any](ctx context.Context, r *Registry, name string, op func(ctx context.Context) (T, error), cfg ...Config) (T, error) {
	b := r.get(name, cfg...)

	var (
		out     T
		invoked bool
	)
	_, err := b.cb.Execute(func() (interface{}, error) {
		invoked = true
		var opErr error
		out, opErr = op(ctx)
		if opErr != nil {
			b.recordFailure(r.clock.Now())
		}
		return nil, opErr
	})

	if err != nil {
		var zero T
		if !invoked && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
			return zero, &CircuitOpenError{
				Name:  name,
				State: b.currentState(),
				cause: err,
			}
		}
		return zero, err
	}
	return out, nil
}

// Status returns a snapshot of the breaker registered under name.
// The second result is false if the name has never been used (or was reset).
func (r *Registry) Status(name string) (Snapshot, bool) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return b.snapshot(name), true
}

// Snapshots returns a snapshot of every registered breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	names := r.Names()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		if s, ok := r.Status(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the registered operation names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Reset forgets the breaker registered under name. The next call creates a
// fresh closed breaker.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	delete(r.breakers, name)
	r.mu.Unlock()
}

func (r *Registry) get(name string, cfg ...Config) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}

	config := r.defaults
	if len(cfg) > 0 {
		config = cfg[0]
	}
	b = r.newBreaker(name, config)
	r.breakers[name] = b
	return b
}

func (r *Registry) newBreaker(name string, cfg Config) *breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}

	b := &breaker{config: cfg}
	logger := r.logger
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.state.Store(int32(fromGobreaker(to)))
			logger.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

func (b *breaker) currentState() State {
	return State(b.state.Load())
}

func (b *breaker) recordFailure(at time.Time) {
	b.mu.Lock()
	b.lastFailure = at
	b.mu.Unlock()
}

func (b *breaker) snapshot(name string) Snapshot {
	b.mu.Lock()
	last := b.lastFailure
	b.mu.Unlock()

	return Snapshot{
		Name:             name,
		State:            b.currentState(),
		FailureCount:     b.cb.Counts().ConsecutiveFailures,
		LastFailureTime:  last,
		FailureThreshold: b.config.FailureThreshold,
		ResetTimeout:     b.config.ResetTimeout,
	}
}
