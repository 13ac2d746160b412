// Package maintenance holds the scheduled jobs flowctl serve runs through
// package cron.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/flowmaster/cron"
	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/metrics"
	"github.com/nomis52/flowmaster/performance"
	"github.com/nomis52/flowmaster/store"
)

// Job names accepted in schedule.triggers.
const (
	JobPerformanceReport = "performance_report"
	JobActiveFlows       = "active_flows"
)

// DefaultReportWindow is how far back a performance report looks.
const DefaultReportWindow = 15 * time.Minute

// Reporter produces performance reports. *performance.Tracker implements it.
type Reporter interface {
	Report(window time.Duration) performance.Report
}

// Pusher sends samples to a remote write endpoint. *metrics.PushRegistry
// implements it.
type Pusher interface {
	Push(ctx context.Context, samples ...metrics.Sample) error
}

// Deps are the collaborators the jobs need.
type Deps struct {
	Store    store.Store
	Reporter Reporter
	Registry metrics.Registry
	// Pusher is optional; when set the performance report is also pushed.
	Pusher Pusher
	Window time.Duration
	Logger *slog.Logger
}

// Jobs builds every maintenance job keyed by name.
func Jobs(d Deps) (map[string]cron.Job, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = metrics.Nop()
	}
	active, err := NewActiveFlows(d.Store, d.Registry, d.Logger)
	if err != nil {
		return nil, err
	}
	return map[string]cron.Job{
		JobPerformanceReport: NewPerformanceReport(d.Reporter, d.Window, d.Pusher, d.Logger),
		JobActiveFlows:       active,
	}, nil
}

// PerformanceReport logs a summary of recent orchestrator operations.
type PerformanceReport struct {
	source Reporter
	window time.Duration
	pusher Pusher
	logger *slog.Logger
}

// NewPerformanceReport creates the job. A zero window uses
// DefaultReportWindow; pusher may be nil.
func NewPerformanceReport(source Reporter, window time.Duration, pusher Pusher, logger *slog.Logger) *PerformanceReport {
	if window <= 0 {
		window = DefaultReportWindow
	}
	return &PerformanceReport{
		source: source,
		window: window,
		pusher: pusher,
		logger: logger.With("job", JobPerformanceReport),
	}
}

// Run builds the report, logs it and pushes it when a pusher is set.
func (j *PerformanceReport) Run(ctx context.Context) error {
	r := j.source.Report(j.window)
	for op, s := range r.Operations {
		j.logger.Info("operation performance",
			"operation", op,
			"count", s.Count,
			"failures", s.Failures,
			"mean_ms", s.MeanMS,
			"p95_ms", s.P95MS,
			"max_ms", s.MaxMS,
		)
	}
	if len(r.Violations) > 0 {
		j.logger.Warn("performance thresholds exceeded", "violations", len(r.Violations), "slow_operations", len(r.Slow))
	}

	if j.pusher == nil {
		return nil
	}
	if err := j.pusher.Push(ctx, reportSamples(r)...); err != nil {
		return fmt.Errorf("pushing performance report: %w", err)
	}
	return nil
}

func reportSamples(r performance.Report) []metrics.Sample {
	samples := []metrics.Sample{
		{Name: "report_active_operations", Value: float64(r.Active), Timestamp: r.GeneratedAt},
		{Name: "report_threshold_violations", Value: float64(len(r.Violations)), Timestamp: r.GeneratedAt},
	}
	for op, s := range r.Operations {
		labels := map[string]string{"operation": op}
		samples = append(samples,
			metrics.Sample{Name: "report_operations", Value: float64(s.Count), Labels: labels, Timestamp: r.GeneratedAt},
			metrics.Sample{Name: "report_failures", Value: float64(s.Failures), Labels: labels, Timestamp: r.GeneratedAt},
			metrics.Sample{Name: "report_mean_ms", Value: s.MeanMS, Labels: labels, Timestamp: r.GeneratedAt},
			metrics.Sample{Name: "report_p95_ms", Value: s.P95MS, Labels: labels, Timestamp: r.GeneratedAt},
		)
	}
	return samples
}

type gaugeKey struct {
	flowType string
	status   flow.Status
}

// ActiveFlows publishes how many flows are in each active status across all
// tenants, and how many hold an expired execution lease.
type ActiveFlows struct {
	store  store.Store
	flows  metrics.GaugeVec
	stale  metrics.Gauge
	logger *slog.Logger
	now    func() time.Time

	// mu serializes runs; triggers sharing the job may fire together.
	mu   sync.Mutex
	seen map[gaugeKey]bool
}

// NewActiveFlows registers the job's gauges on registry.
func NewActiveFlows(s store.Store, registry metrics.Registry, logger *slog.Logger) (*ActiveFlows, error) {
	flows, err := registry.NewGaugeVec(prometheus.GaugeOpts{
		Name: "active_flows",
		Help: "Flows that have not terminated, by flow type and status",
	}, []string{"flow_type", "status"})
	if err != nil {
		return nil, fmt.Errorf("registering active_flows gauge: %w", err)
	}
	stale, err := registry.NewGauge(prometheus.GaugeOpts{
		Name: "stale_execution_leases",
		Help: "Flows whose execution lease expired without being released",
	})
	if err != nil {
		return nil, fmt.Errorf("registering stale_execution_leases gauge: %w", err)
	}
	return &ActiveFlows{
		store:  s,
		flows:  flows,
		stale:  stale,
		logger: logger.With("job", JobActiveFlows),
		now:    time.Now,
		seen:   make(map[gaugeKey]bool),
	}, nil
}

// Run counts active flows and updates the gauges. Label sets that no longer
// have flows are set to zero. Overlapping runs execute one after another.
func (j *ActiveFlows) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	list, err := j.store.List(ctx, store.Filter{Statuses: flow.ActiveStatuses})
	if err != nil {
		return fmt.Errorf("listing active flows: %w", err)
	}

	now := j.now()
	counts := make(map[gaugeKey]int)
	stale := 0
	for _, f := range list {
		counts[gaugeKey{f.Master.FlowType, f.Master.Status}]++
		if lease := f.Master.PersistenceData.Execution; lease != nil && !lease.Live(now) {
			stale++
			j.logger.Warn("execution lease expired", "flow_id", f.ID(), "phase", lease.Phase, "expired_at", lease.ExpiresAt)
		}
	}

	for key := range j.seen {
		if _, ok := counts[key]; !ok {
			counts[key] = 0
		}
	}
	for key, n := range counts {
		j.flows.With(prometheus.Labels{"flow_type": key.flowType, "status": key.status.String()}).Set(float64(n))
		j.seen[key] = true
	}
	j.stale.Set(float64(stale))

	j.logger.Debug("active flows counted", "flows", len(list), "stale_leases", stale)
	return nil
}
