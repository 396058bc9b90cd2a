package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/stats"
)

// BreakerSource lists breaker snapshots. *circuitbreaker.Registry satisfies it.
type BreakerSource interface {
	Snapshots() []circuitbreaker.Snapshot
}

// StatsSource lists call stats. *stats.Tracker satisfies it.
type StatsSource interface {
	All() []stats.Snapshot
}

// Outcome label values for resilience_calls_total.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// ResilienceCollector reports breaker state and call stats on every scrape.
// Values come straight from the snapshots, so a stats reset shows up as a
// counter reset.
type ResilienceCollector struct {
	breakers BreakerSource
	stats    StatsSource

	calls          *prometheus.Desc
	retries        *prometheus.Desc
	averageRetries *prometheus.Desc
	circuitState   *prometheus.Desc
	circuitFails   *prometheus.Desc
	circuitThresh  *prometheus.Desc
}

// NewResilienceCollector creates a collector. Either source may be nil.
func NewResilienceCollector(breakers BreakerSource, st StatsSource) *ResilienceCollector {
	return &ResilienceCollector{
		breakers: breakers,
		stats:    st,
		calls: prometheus.NewDesc(
			"resilience_calls_total",
			"Total resilient calls by final outcome",
			[]string{"operation", "outcome"}, nil),
		retries: prometheus.NewDesc(
			"resilience_retries_total",
			"Total retries performed across all calls",
			[]string{"operation"}, nil),
		averageRetries: prometheus.NewDesc(
			"resilience_average_retries",
			"Average retries per call",
			[]string{"operation"}, nil),
		circuitState: prometheus.NewDesc(
			"resilience_circuit_state",
			"Circuit breaker state (0=closed, 1=open, 2=half-open)",
			[]string{"operation"}, nil),
		circuitFails: prometheus.NewDesc(
			"resilience_circuit_consecutive_failures",
			"Consecutive failures counted by the circuit breaker",
			[]string{"operation"}, nil),
		circuitThresh: prometheus.NewDesc(
			"resilience_circuit_failure_threshold",
			"Consecutive failures that open the circuit",
			[]string{"operation"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *ResilienceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.retries
	ch <- c.averageRetries
	ch <- c.circuitState
	ch <- c.circuitFails
	ch <- c.circuitThresh
}

// Collect implements prometheus.Collector.
func (c *ResilienceCollector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		for _, s := range c.stats.All() {
			ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.SuccessfulCalls), s.Name, outcomeSuccess)
			ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.FailedCalls), s.Name, outcomeFailure)
			ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.TotalRetries), s.Name)
			ch <- prometheus.MustNewConstMetric(c.averageRetries, prometheus.GaugeValue, s.AverageRetries, s.Name)
		}
	}

	if c.breakers != nil {
		for _, b := range c.breakers.Snapshots() {
			ch <- prometheus.MustNewConstMetric(c.circuitState, prometheus.GaugeValue, float64(b.State), b.Name)
			ch <- prometheus.MustNewConstMetric(c.circuitFails, prometheus.GaugeValue, float64(b.FailureCount), b.Name)
			ch <- prometheus.MustNewConstMetric(c.circuitThresh, prometheus.GaugeValue, float64(b.FailureThreshold), b.Name)
		}
	}
}
