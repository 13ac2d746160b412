// Package metrics exposes flowmaster's Prometheus-compatible instruments.
//
// Two registries implement the same Registry interface:
//   - ScrapeRegistry (flowctl serve): instruments live in a Prometheus registry served on /metrics.
//   - PushRegistry (one-shot flowctl commands): samples go to a remote write endpoint as they change.
//
// Nop discards everything and is used when monitoring is not configured.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
	// Add panics if the value is negative.
	Add(float64)
}

// Histogram samples observations such as latencies.
type Histogram interface {
	Observe(float64)
}

// GaugeVec is a Gauge partitioned by labels.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec is a Counter partitioned by labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// HistogramVec is a Histogram partitioned by labels.
type HistogramVec interface {
	With(prometheus.Labels) Histogram
}

// Registry creates and registers instruments. Implementations handle the
// differences between push and scrape modes.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
	NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error)
}
