// Package circuitbreaker provides a registry of per-operation circuit breakers.
// It uses the github.com/sony/gobreaker library to prevent cascading failures.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// circuit from closed to open.
	FailureThreshold uint32

	// ResetTimeout is how long to wait in open state before a probe call is
	// allowed through (half-open).
	ResetTimeout time.Duration
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// ChatCompletionConfig returns configuration for LLM chat completion APIs.
// Rate-limited upstreams get a longer cool-down.
func ChatCompletionConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     120 * time.Second,
	}
}

// TranscriptionConfig returns configuration for audio transcription APIs.
func TranscriptionConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     120 * time.Second,
	}
}

// DatabaseConfig returns configuration for database operations.
// Opens after 5 consecutive failures, 30 second timeout.
func DatabaseConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Validate checks configuration correctness.
func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be positive, got %v", c.ResetTimeout)
	}
	return nil
}

// State is the state of a single breaker.
type State int

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen
	// StateHalfOpen lets exactly one probe call through.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	FailureCount     uint32        `json:"failure_count"`
	LastFailureTime  time.Time     `json:"last_failure_time,omitzero"`
	FailureThreshold uint32        `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
}
