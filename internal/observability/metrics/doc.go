// Package metrics exposes Prometheus metrics for the clinic backend.
//
// Two kinds of metrics live here:
//   - HTTP metrics recorded by Middleware for every request the gateway serves
//   - resilience metrics read from breaker and stats snapshots by
//     ResilienceCollector at scrape time
//
// The resilience core never pushes metrics itself. Register a collector for the
// executor's registry and tracker instead:
//
//	ex := resilience.New(logger)
//	prometheus.MustRegister(metrics.NewResilienceCollector(ex.Breakers, ex.Stats))
//
// HTTP metrics are registered with the default registry and served by
// promhttp.Handler().
package metrics
