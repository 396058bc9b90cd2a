package retry

import (
	"fmt"
	"net/http"
	"time"
)

// Policy holds the configuration for a retried call.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Total attempts = MaxRetries + 1.
	MaxRetries int

	// BaseDelay is the nominal delay before the first retry
	BaseDelay time.Duration

	// MaxDelay caps the nominal delay (jitter may exceed it by 25%)
	MaxDelay time.Duration

	// Multiplier is the growth factor per attempt
	Multiplier float64

	// RetryableStatusCodes lists response statuses worth retrying
	RetryableStatusCodes []int

	// RetryableErrors lists transport error codes worth retrying,
	// e.g. "ECONNRESET", "ETIMEDOUT" or gRPC code names like "UNAVAILABLE".
	RetryableErrors []string

	// OnRetry, if set, is called before each wait with the 1-based number of
	// the retry about to happen, the error that caused it and the delay.
	// A panic inside OnRetry is recovered and logged.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryableStatusCodes are the statuses treated as transient.
var DefaultRetryableStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// DefaultRetryableErrors are the transport codes treated as transient.
var DefaultRetryableErrors = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ECONNREFUSED",
	"ENETUNREACH",
	"EHOSTUNREACH",
	"EPIPE",
	"UNAVAILABLE",
	"RESOURCE_EXHAUSTED",
}

// DefaultPolicy returns a default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		BaseDelay:            1 * time.Second,
		MaxDelay:             30 * time.Second,
		Multiplier:           2.0,
		RetryableStatusCodes: DefaultRetryableStatusCodes,
		RetryableErrors:      DefaultRetryableErrors,
	}
}

// ChatCompletionPolicy returns a policy for LLM chat completion calls.
// Moderate retry due to cost considerations.
func ChatCompletionPolicy() Policy {
	return Policy{
		MaxRetries:           2,
		BaseDelay:            2 * time.Second,
		MaxDelay:             20 * time.Second,
		Multiplier:           2.0,
		RetryableStatusCodes: DefaultRetryableStatusCodes,
		RetryableErrors:      DefaultRetryableErrors,
	}
}

// TranscriptionPolicy returns a policy for audio transcription uploads.
// Uploads are large, so retries are spaced further apart.
func TranscriptionPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		BaseDelay:            5 * time.Second,
		MaxDelay:             60 * time.Second,
		Multiplier:           2.0,
		RetryableStatusCodes: DefaultRetryableStatusCodes,
		RetryableErrors:      DefaultRetryableErrors,
	}
}

// DatabasePolicy returns a policy for database operations.
// Fast retry for transient connection issues.
func DatabasePolicy() Policy {
	return Policy{
		MaxRetries:      2,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        1 * time.Second,
		Multiplier:      2.0,
		RetryableErrors: DefaultRetryableErrors,
	}
}

// Validate checks policy correctness.
// BaseDelay > MaxDelay is accepted: every delay is then capped at MaxDelay.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", p.MaxRetries)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %v", p.BaseDelay)
	}
	if p.MaxDelay <= 0 {
		return fmt.Errorf("max delay must be positive, got %v", p.MaxDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}
