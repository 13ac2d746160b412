package performance

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/flowmaster/metrics"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(t *testing.T, cfg Config, clock *fakeClock, heap *uint64) *Tracker {
	t.Helper()
	opts := []Option{WithClock(clock.Now)}
	if heap != nil {
		opts = append(opts, WithHeapReader(func() uint64 { return *heap }))
	}
	tr, err := New(cfg, metrics.Nop(), opts...)
	require.NoError(t, err)
	return tr
}

// run records one operation of the given duration.
func run(tr *Tracker, clock *fakeClock, opType string, d time.Duration, success bool) {
	id := tr.Start(opType, nil)
	clock.Advance(d)
	var err error
	if !success {
		err = errors.New("failed")
	}
	tr.End(id, success, err, nil)
}

func TestTracker_Stats(t *testing.T) {
	clock := newFakeClock()
	tr := newTracker(t, Config{}, clock, nil)

	_, ok := tr.Stats("execute_phase")
	assert.False(t, ok)

	for i := 1; i <= 10; i++ {
		run(tr, clock, "execute_phase", time.Duration(i*10)*time.Millisecond, i != 10)
	}

	s, ok := tr.Stats("execute_phase")
	require.True(t, ok)
	assert.Equal(t, 10, s.Count)
	assert.Equal(t, 9, s.Successes)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 55.0, s.MeanMS)
	assert.Equal(t, 50.0, s.MedianMS)
	assert.Equal(t, 100.0, s.P95MS)
	assert.Equal(t, 100.0, s.P99MS)
	assert.Equal(t, 10.0, s.MinMS)
	assert.Equal(t, 100.0, s.MaxMS)
	assert.Equal(t, 0, tr.Active())
}

func TestTracker_StatsCacheInvalidatedOnCompletion(t *testing.T) {
	clock := newFakeClock()
	tr := newTracker(t, Config{StatsTTL: time.Hour}, clock, nil)

	run(tr, clock, "create_flow", 10*time.Millisecond, true)
	s, _ := tr.Stats("create_flow")
	assert.Equal(t, 1, s.Count)

	run(tr, clock, "create_flow", 30*time.Millisecond, true)
	s, _ = tr.Stats("create_flow")
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 20.0, s.MeanMS)
}

func TestTracker_HistoryBounded(t *testing.T) {
	clock := newFakeClock()
	tr := newTracker(t, Config{HistorySize: 3}, clock, nil)

	for i := 1; i <= 5; i++ {
		run(tr, clock, "op", time.Duration(i)*time.Millisecond, true)
	}
	s, _ := tr.Stats("op")
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 3.0, s.MinMS)
}

func TestTracker_Thresholds(t *testing.T) {
	clock := newFakeClock()
	heap := uint64(1000)
	tr := newTracker(t, Config{
		Default: Threshold{Duration: time.Second},
		Thresholds: map[string]Threshold{
			"execute_phase": {Duration: 5 * time.Second, HeapGrowthBytes: 100},
		},
	}, clock, &heap)

	run(tr, clock, "create_flow", 2*time.Second, true)
	run(tr, clock, "execute_phase", 2*time.Second, true)

	id := tr.Start("execute_phase", nil)
	heap += 500
	clock.Advance(6 * time.Second)
	tr.End(id, true, nil, nil)

	v := tr.Violations()
	require.Len(t, v, 3)
	assert.Equal(t, "create_flow", v[0].Type)
	assert.Equal(t, "duration", v[0].Kind)
	assert.Equal(t, 1000.0, v[0].Limit)
	assert.Equal(t, "duration", v[1].Kind)
	assert.Equal(t, "heap", v[2].Kind)
	assert.Equal(t, 500.0, v[2].Actual)
}

func TestTracker_EndUnknownIgnored(t *testing.T) {
	clock := newFakeClock()
	tr := newTracker(t, Config{}, clock, nil)
	tr.End("missing", true, nil, nil)
	_, ok := tr.Stats("")
	assert.False(t, ok)
}

func TestTracker_Report(t *testing.T) {
	clock := newFakeClock()
	tr := newTracker(t, Config{Default: Threshold{Duration: 500 * time.Millisecond}}, clock, nil)

	run(tr, clock, "old", time.Second, true)
	clock.Advance(2 * time.Hour)

	for i := 1; i <= 9; i++ {
		run(tr, clock, "execute_phase", 10*time.Millisecond, true)
	}
	run(tr, clock, "execute_phase", 400*time.Millisecond, true)
	_ = tr.Start("pause_flow", nil)

	r := tr.Report(time.Hour)
	assert.Equal(t, 1, r.Active)
	assert.NotContains(t, r.Operations, "old")
	require.Contains(t, r.Operations, "execute_phase")
	assert.Equal(t, 10, r.Operations["execute_phase"].Count)
	require.Len(t, r.Slow, 1)
	assert.Equal(t, 400*time.Millisecond, r.Slow[0].Duration)
	assert.Empty(t, r.Violations, "the old violation is outside the window")

	all := tr.Report(24 * time.Hour)
	assert.Contains(t, all.Operations, "old")
	assert.Len(t, all.Violations, 1)
}

func TestTracker_ExportsMetrics(t *testing.T) {
	reg, err := metrics.NewScrapeRegistry("")
	require.NoError(t, err)

	clock := newFakeClock()
	tr, err := New(Config{Default: Threshold{Duration: time.Millisecond}}, reg, WithClock(clock.Now))
	require.NoError(t, err)

	run(tr, clock, "create_flow", 5*time.Millisecond, true)
	run(tr, clock, "create_flow", 5*time.Millisecond, false)

	count, err := testutil.GatherAndCount(reg.PrometheusRegistry(), "operations_total", "threshold_violations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = New(Config{}, reg)
	assert.Error(t, err, "metrics are registered once per registry")
}

func TestTracker_Concurrent(t *testing.T) {
	tr, err := New(Config{}, metrics.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := tr.Start("op", map[string]any{"j": j})
				tr.End(id, true, nil, nil)
				_, _ = tr.Stats("op")
			}
		}()
	}
	wg.Wait()

	s, ok := tr.Stats("op")
	require.True(t, ok)
	assert.Equal(t, 1000, s.Count)
}

func TestNop(t *testing.T) {
	r := Nop()
	id := r.Start("x", nil)
	r.End(id, false, errors.New("ignored"), nil)
}
