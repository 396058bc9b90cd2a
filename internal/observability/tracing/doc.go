// Package tracing provides OpenTelemetry tracing integration.
//
// The package exposes the process-wide tracer used by the resilience layer
// and an HTTP middleware for the gateway's admin endpoints. Exporters are
// configured by installing a provider with otel.SetTracerProvider.
//
// Example usage:
//
//	import "clinic-backend/internal/observability/tracing"
//
//	func callUpstream(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "upstream.call")
//	    defer span.End()
//	    // ...
//	}
package tracing
