package circuitbreaker

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen matches every *CircuitOpenError with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned when a call is rejected because the breaker for
// the named operation is open, or half-open with its probe already in flight.
// The wrapped operation was not invoked.
type CircuitOpenError struct {
	Name  string
	State State

	cause error
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s: call rejected", e.Name, e.State)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Unwrap returns the gobreaker rejection error.
func (e *CircuitOpenError) Unwrap() error {
	return e.cause
}
