// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the application.
//
// Key features:
//   - JSON and text output formats
//   - Call ID propagation for resilient calls
//   - Context-aware logging
//   - Configurable log levels
//
// Example usage:
//
//	import "clinic-backend/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("gateway started", slog.String("addr", ":9090"))
//	}
//
//	func callUpstream(ctx context.Context) {
//	    logger := logging.WithCallID(ctx, slog.Default())
//	    logger.Info("calling upstream")
//	}
package logging
