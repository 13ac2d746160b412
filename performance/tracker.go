// Package performance measures orchestrator operations.
//
// A Tracker records the duration, outcome and heap growth of each operation,
// keeps a bounded history per operation type and derives percentile
// statistics from it. Operations that exceed a configured threshold are
// logged and counted but never fail the operation itself.
package performance

import (
	"log/slog"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	flowmetrics "github.com/nomis52/flowmaster/metrics"
)

const (
	DefaultHistorySize = 1000
	DefaultStatsTTL    = 5 * time.Second
)

// Recorder is what callers need to measure an operation. Tracker implements
// it; Nop returns one that records nothing.
type Recorder interface {
	// Start begins an operation and returns its tracking id.
	Start(opType string, metadata map[string]any) string
	// End completes the operation started with id.
	End(id string, success bool, err error, result map[string]any)
}

// Threshold is the budget for a single operation. Zero fields are unchecked.
type Threshold struct {
	Duration        time.Duration `yaml:"duration" json:"duration"`
	HeapGrowthBytes uint64        `yaml:"heap_growth_bytes" json:"heap_growth_bytes"`
}

// Config configures a Tracker.
type Config struct {
	// HistorySize bounds the completed operations kept per type.
	HistorySize int
	// StatsTTL is how long computed statistics are reused.
	StatsTTL time.Duration
	// Default applies to operation types without their own threshold.
	Default Threshold
	// Thresholds overrides Default per operation type.
	Thresholds map[string]Threshold
}

// Operation is a completed measurement.
type Operation struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	HeapGrowth int64          `json:"heap_growth"`
}

// Violation records an operation that exceeded its threshold.
type Violation struct {
	OperationID string    `json:"operation_id"`
	Type        string    `json:"type"`
	Kind        string    `json:"kind"`
	Limit       float64   `json:"limit"`
	Actual      float64   `json:"actual"`
	At          time.Time `json:"at"`
}

type active struct {
	opType   string
	metadata map[string]any
	start    time.Time
	heap     uint64
}

type cachedStats struct {
	stats Stats
	at    time.Time
}

// Tracker records operation performance. It is safe for concurrent use.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	heap   func() uint64

	mu         sync.Mutex
	active     map[string]active
	history    map[string][]Operation
	cache      map[string]cachedStats
	violations []Violation

	durations  flowmetrics.GaugeVec
	latency    flowmetrics.HistogramVec
	totals     flowmetrics.CounterVec
	violationC flowmetrics.CounterVec
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for threshold warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithHeapReader replaces the heap size probe, for tests.
func WithHeapReader(read func() uint64) Option {
	return func(t *Tracker) {
		t.heap = read
	}
}

// New creates a Tracker that exports to registry. Pass metrics.Nop() to
// disable export.
func New(cfg Config, registry flowmetrics.Registry, opts ...Option) (*Tracker, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = DefaultStatsTTL
	}

	t := &Tracker{
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		heap:    heapBytes,
		active:  make(map[string]active),
		history: make(map[string][]Operation),
		cache:   make(map[string]cachedStats),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "performance")

	if registry == nil {
		registry = flowmetrics.Nop()
	}
	var err error
	if t.durations, err = registry.NewGaugeVec(prometheus.GaugeOpts{
		Name: "operation_duration_ms",
		Help: "Duration of the most recent operation in milliseconds",
	}, []string{"operation", "outcome"}); err != nil {
		return nil, err
	}
	if t.latency, err = registry.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "operation_latency_ms",
		Help:    "Distribution of operation durations in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"operation"}); err != nil {
		return nil, err
	}
	if t.totals, err = registry.NewCounterVec(prometheus.CounterOpts{
		Name: "operations_total",
		Help: "Completed operations",
	}, []string{"operation", "outcome"}); err != nil {
		return nil, err
	}
	if t.violationC, err = registry.NewCounterVec(prometheus.CounterOpts{
		Name: "threshold_violations_total",
		Help: "Operations that exceeded a performance threshold",
	}, []string{"operation", "kind"}); err != nil {
		return nil, err
	}
	return t, nil
}

// Start begins tracking an operation.
func (t *Tracker) Start(opType string, metadata map[string]any) string {
	id := uuid.NewString()
	a := active{opType: opType, metadata: metadata, start: t.now(), heap: t.heap()}

	t.mu.Lock()
	t.active[id] = a
	t.mu.Unlock()
	return id
}

// End completes an operation. Unknown ids are ignored.
func (t *Tracker) End(id string, success bool, err error, result map[string]any) {
	end := t.now()
	heapNow := t.heap()

	t.mu.Lock()
	a, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		t.logger.Debug("end called for unknown operation", "id", id)
		return
	}
	delete(t.active, id)

	op := Operation{
		ID:         id,
		Type:       a.opType,
		Metadata:   a.metadata,
		StartedAt:  a.start,
		Duration:   end.Sub(a.start),
		Success:    success,
		Result:     result,
		HeapGrowth: int64(heapNow) - int64(a.heap),
	}
	if err != nil {
		op.Error = err.Error()
	}

	hist := append(t.history[a.opType], op)
	if len(hist) > t.cfg.HistorySize {
		hist = hist[len(hist)-t.cfg.HistorySize:]
	}
	t.history[a.opType] = hist
	delete(t.cache, a.opType)

	violations := t.check(op, end)
	t.violations = append(t.violations, violations...)
	if len(t.violations) > t.cfg.HistorySize {
		t.violations = t.violations[len(t.violations)-t.cfg.HistorySize:]
	}
	t.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	durMS := ms(op.Duration)
	t.durations.With(prometheus.Labels{"operation": op.Type, "outcome": outcome}).Set(durMS)
	t.latency.With(prometheus.Labels{"operation": op.Type}).Observe(durMS)
	t.totals.With(prometheus.Labels{"operation": op.Type, "outcome": outcome}).Inc()

	for _, v := range violations {
		t.violationC.With(prometheus.Labels{"operation": v.Type, "kind": v.Kind}).Inc()
		t.logger.Warn("performance threshold exceeded",
			"operation", v.Type,
			"id", v.OperationID,
			"kind", v.Kind,
			"limit", v.Limit,
			"actual", v.Actual)
	}
}

// check must be called with t.mu held.
func (t *Tracker) check(op Operation, at time.Time) []Violation {
	th, ok := t.cfg.Thresholds[op.Type]
	if !ok {
		th = t.cfg.Default
	}

	var out []Violation
	if th.Duration > 0 && op.Duration > th.Duration {
		out = append(out, Violation{
			OperationID: op.ID,
			Type:        op.Type,
			Kind:        "duration",
			Limit:       float64(th.Duration.Milliseconds()),
			Actual:      float64(op.Duration.Milliseconds()),
			At:          at,
		})
	}
	if th.HeapGrowthBytes > 0 && op.HeapGrowth > int64(th.HeapGrowthBytes) {
		out = append(out, Violation{
			OperationID: op.ID,
			Type:        op.Type,
			Kind:        "heap",
			Limit:       float64(th.HeapGrowthBytes),
			Actual:      float64(op.HeapGrowth),
			At:          at,
		})
	}
	return out
}

// Active returns the number of operations started but not ended.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Violations returns a copy of the recorded threshold violations.
func (t *Tracker) Violations() []Violation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Violation, len(t.violations))
	copy(out, t.violations)
	return out
}

// heapBytes reads live heap object bytes without stopping the world.
func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

type nop struct{}

func (nop) Start(string, map[string]any) string { return "" }
func (nop) End(string, bool, error, map[string]any) {}

// Nop returns a Recorder that records nothing.
func Nop() Recorder {
	return nop{}
}
