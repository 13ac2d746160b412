package metrics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint, e.g. "http://localhost:8428".
	URL string
	// Prefix is prepended, with an underscore, to every metric name.
	Prefix   string
	Job      string
	Instance string
	// Timeout bounds each push. Defaults to DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// PushRegistry implements Registry by pushing every update to a remote write
// endpoint. It suits short-lived processes that exit before a scrape happens.
type PushRegistry struct {
	writer *RemoteWriter
	logger *slog.Logger
}

// NewPushRegistry creates a PushRegistry for cfg.URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PushRegistry{
		writer: NewRemoteWriter(cfg.URL, cfg.Prefix, map[string]string{
			"job":      cfg.Job,
			"instance": cfg.Instance,
		}, cfg.Timeout),
		logger: logger.With("component", "metrics_push"),
	}
}

// Push sends samples in one request.
func (r *PushRegistry) Push(ctx context.Context, samples ...Sample) error {
	return r.writer.Write(ctx, samples...)
}

// send pushes one sample; failures are logged and otherwise ignored so a
// metrics outage never fails a flow operation.
func (r *PushRegistry) send(name string, value float64, labels map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writer.httpClient.Timeout)
	defer cancel()
	if err := r.writer.Write(ctx, Sample{Name: name, Value: value, Labels: labels}); err != nil {
		r.logger.Warn("failed to push metric", "metric", name, "error", err)
	}
}

func metricName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "_" + name
}

// NewGauge creates a push-based Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushValue{registry: r, name: metricName(opts.Namespace, opts.Name)}, nil
}

// NewGaugeVec creates a push-based GaugeVec.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, _ []string) (GaugeVec, error) {
	return &pushVec{registry: r, name: metricName(opts.Namespace, opts.Name)}, nil
}

// NewCounter creates a push-based Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushValue{registry: r, name: metricName(opts.Namespace, opts.Name)}, nil
}

// NewCounterVec creates a push-based CounterVec.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, _ []string) (CounterVec, error) {
	return pushCounterView{&pushVec{registry: r, name: metricName(opts.Namespace, opts.Name)}}, nil
}

// NewHistogramVec creates a push-based HistogramVec. Remote write has no
// native histogram in this encoding, so each observation is pushed as a
// sample of the metric itself.
func (r *PushRegistry) NewHistogramVec(opts prometheus.HistogramOpts, _ []string) (HistogramVec, error) {
	return pushHistogramView{&pushVec{registry: r, name: metricName(opts.Namespace, opts.Name)}}, nil
}

// pushValue is a gauge, counter or histogram bound to one label set.
type pushValue struct {
	registry *PushRegistry
	name     string
	labels   map[string]string

	mu    sync.Mutex
	total float64
}

func (v *pushValue) Set(f float64) {
	v.registry.send(v.name, f, v.labels)
}

func (v *pushValue) Observe(f float64) {
	v.registry.send(v.name, f, v.labels)
}

func (v *pushValue) Inc() {
	v.Add(1)
}

func (v *pushValue) Add(f float64) {
	v.mu.Lock()
	v.total += f
	total := v.total
	v.mu.Unlock()
	v.registry.send(v.name, total, v.labels)
}

// pushVec hands out one pushValue per label set so counters accumulate per series.
type pushVec struct {
	registry *PushRegistry
	name     string

	mu     sync.Mutex
	series map[string]*pushValue
}

func (v *pushVec) get(labels prometheus.Labels) *pushValue {
	key := labelsKey(labels)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.series == nil {
		v.series = make(map[string]*pushValue)
	}
	if s, ok := v.series[key]; ok {
		return s
	}
	s := &pushValue{registry: v.registry, name: v.name, labels: labels}
	v.series[key] = s
	return s
}

func (v *pushVec) With(labels prometheus.Labels) Gauge { return v.get(labels) }

// Counter and histogram views over the same per-series storage.
type pushCounterView struct{ *pushVec }

func (v pushCounterView) With(labels prometheus.Labels) Counter { return v.get(labels) }

type pushHistogramView struct{ *pushVec }

func (v pushHistogramView) With(labels prometheus.Labels) Histogram { return v.get(labels) }

// labelsKey builds a stable map key from a label set.
func labelsKey(labels prometheus.Labels) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
