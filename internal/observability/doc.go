// Package observability groups the logging, metrics and tracing support used
// by the clinic backend.
//
// Subpackages:
//   - logging: slog setup, per-call IDs and loggers carried in context
//   - metrics: HTTP metrics and the resilience collector
//   - tracing: OpenTelemetry tracer and HTTP middleware
//
// Example usage:
//
//	import (
//	    "clinic-backend/internal/observability/logging"
//	    "clinic-backend/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    ex := resilience.New(logger)
//	    prometheus.MustRegister(metrics.NewResilienceCollector(ex.Breakers, ex.Stats))
//	}
package observability
