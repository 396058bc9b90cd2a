// Package stats keeps per-operation call counters for resilient calls.
// The tracker is purely observational: nothing in the retry or breaker path
// reads it back.
package stats

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Snapshot is a point-in-time view of the counters for one operation.
type Snapshot struct {
	Name            string  `json:"name"`
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	TotalRetries    int64   `json:"total_retries"`
	AverageRetries  float64 `json:"average_retries"`
}

type counters struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
}

// Tracker aggregates call outcomes keyed by operation name.
type Tracker struct {
	mu    sync.RWMutex
	calls map[string]*counters
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{calls: make(map[string]*counters)}
}

// Track records one completed call. Negative retry counts are treated as 0.
func (t *Tracker) Track(name string, succeeded bool, retries int) {
	c := t.get(name)
	c.total.Add(1)
	if succeeded {
		c.succeeded.Add(1)
	} else {
		c.failed.Add(1)
	}
	if retries > 0 {
		c.retries.Add(int64(retries))
	}
}

// Get returns the counters for name. The second result is false if nothing
// has been tracked under name since the last reset.
func (t *Tracker) Get(name string) (Snapshot, bool) {
	t.mu.RLock()
	c, ok := t.calls[name]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return c.snapshot(name), true
}

// All returns a snapshot for every tracked name, sorted by name.
func (t *Tracker) All() []Snapshot {
	names := t.Names()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		if s, ok := t.Get(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the tracked operation names, sorted.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.calls))
	for name := range t.calls {
		names = append(names, name)
	}
	t.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Reset clears the counters for name.
func (t *Tracker) Reset(name string) {
	t.mu.Lock()
	delete(t.calls, name)
	t.mu.Unlock()
}

// ResetAll clears every counter.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	t.calls = make(map[string]*counters)
	t.mu.Unlock()
}

func (t *Tracker) get(name string) *counters {
	t.mu.RLock()
	c, ok := t.calls[name]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.calls[name]; ok {
		return c
	}
	c = &counters{}
	t.calls[name] = c
	return c
}

func (c *counters) snapshot(name string) Snapshot {
	s := Snapshot{
		Name:            name,
		TotalCalls:      c.total.Load(),
		SuccessfulCalls: c.succeeded.Load(),
		FailedCalls:     c.failed.Load(),
		TotalRetries:    c.retries.Load(),
	}
	if s.TotalCalls > 0 {
		s.AverageRetries = float64(s.TotalRetries) / float64(s.TotalCalls)
	}
	return s
}
