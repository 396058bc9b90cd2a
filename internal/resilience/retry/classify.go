package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StatusError represents a failed call that carried an HTTP-like response status.
type StatusError struct {
	StatusCode int
	Message    string
	// Err is the underlying client error, if any.
	Err error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying client error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// CodeError represents a transport-level failure identified by a symbolic code
// such as "ECONNRESET".
type CodeError struct {
	Code string
	Err  error
}

// Error implements the error interface.
func (e *CodeError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap returns the underlying error.
func (e *CodeError) Unwrap() error {
	return e.Err
}

// StatusCoder is implemented by foreign error types that expose a response status.
type StatusCoder interface {
	HTTPStatusCode() int
}

// Failure is the flattened shape of an error as seen by the classifier.
// Zero values mean the field is absent.
type Failure struct {
	Code       string
	StatusCode int
	Message    string
}

var errnoNames = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ENETUNREACH:  "ENETUNREACH",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
	syscall.EPIPE:        "EPIPE",
	syscall.ECONNABORTED: "ECONNABORTED",
}

var grpcCodeNames = map[codes.Code]string{
	codes.Canceled:           "CANCELLED",
	codes.Unknown:            "UNKNOWN",
	codes.InvalidArgument:    "INVALID_ARGUMENT",
	codes.DeadlineExceeded:   "DEADLINE_EXCEEDED",
	codes.NotFound:           "NOT_FOUND",
	codes.AlreadyExists:      "ALREADY_EXISTS",
	codes.PermissionDenied:   "PERMISSION_DENIED",
	codes.ResourceExhausted:  "RESOURCE_EXHAUSTED",
	codes.FailedPrecondition: "FAILED_PRECONDITION",
	codes.Aborted:            "ABORTED",
	codes.OutOfRange:         "OUT_OF_RANGE",
	codes.Unimplemented:      "UNIMPLEMENTED",
	codes.Internal:           "INTERNAL",
	codes.Unavailable:        "UNAVAILABLE",
	codes.DataLoss:           "DATA_LOSS",
	codes.Unauthenticated:    "UNAUTHENTICATED",
}

// transientPhrases are matched against lower-cased error messages when no
// structured code or status matched.
var transientPhrases = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
}

// FailureOf extracts the code, status and message carried by err.
func FailureOf(err error) Failure {
	if err == nil {
		return Failure{}
	}
	f := Failure{Message: err.Error()}

	var codeErr *CodeError
	var errno syscall.Errno
	var netErr net.Error
	switch {
	case errors.As(err, &codeErr):
		f.Code = codeErr.Code
	case errors.As(err, &errno):
		f.Code = errnoNames[errno]
	case errors.As(err, &netErr) && netErr.Timeout():
		f.Code = "ETIMEDOUT"
	default:
		if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
			f.Code = grpcCodeNames[s.Code()]
		}
	}

	var statusErr *StatusError
	var coder StatusCoder
	switch {
	case errors.As(err, &statusErr):
		f.StatusCode = statusErr.StatusCode
	case errors.As(err, &coder):
		f.StatusCode = coder.HTTPStatusCode()
	}

	return f
}

// IsRetryable determines if an error is worth retrying under the given policy.
//
// Decision order, first match wins:
//  1. transport code listed in p.RetryableErrors
//  2. response status listed in p.RetryableStatusCodes
//  3. message mentions a rate limit or timeout
//
// context.Canceled is never retryable. A per-attempt context.DeadlineExceeded
// counts as a timeout (code "ETIMEDOUT").
func IsRetryable(err error, p Policy) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	f := FailureOf(err)
	if f.Code != "" && slices.Contains(p.RetryableErrors, f.Code) {
		return true
	}
	if f.StatusCode != 0 && slices.Contains(p.RetryableStatusCodes, f.StatusCode) {
		return true
	}

	msg := strings.ToLower(f.Message)
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
