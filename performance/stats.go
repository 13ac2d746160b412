package performance

import (
	"math"
	"sort"
	"time"
)

// Stats summarises the recorded history of one operation type. Durations are
// in milliseconds.
type Stats struct {
	Count     int     `json:"count"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	MeanMS    float64 `json:"mean_ms"`
	MedianMS  float64 `json:"median_ms"`
	P95MS     float64 `json:"p95_ms"`
	P99MS     float64 `json:"p99_ms"`
	MinMS     float64 `json:"min_ms"`
	MaxMS     float64 `json:"max_ms"`
}

// Report aggregates the operations completed within a window.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Window      time.Duration    `json:"window"`
	Active      int              `json:"active"`
	Operations  map[string]Stats `json:"operations"`
	// Slow lists operations slower than the 90th percentile of their type
	// within the window.
	Slow       []Operation `json:"slow,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// Stats returns statistics for an operation type. The second result is false
// when nothing of that type has completed. Results are cached for the
// configured TTL and recomputed after any completion of that type.
func (t *Tracker) Stats(opType string) (Stats, bool) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	hist := t.history[opType]
	if len(hist) == 0 {
		return Stats{}, false
	}
	if c, ok := t.cache[opType]; ok && now.Sub(c.at) < t.cfg.StatsTTL {
		return c.stats, true
	}

	s := compute(hist)
	t.cache[opType] = cachedStats{stats: s, at: now}
	return s, true
}

// Report builds a report over operations that started within window of now.
func (t *Tracker) Report(window time.Duration) Report {
	now := t.now()
	since := now.Add(-window)

	t.mu.Lock()
	defer t.mu.Unlock()

	r := Report{
		GeneratedAt: now,
		Window:      window,
		Active:      len(t.active),
		Operations:  make(map[string]Stats),
	}

	types := make([]string, 0, len(t.history))
	for opType := range t.history {
		types = append(types, opType)
	}
	sort.Strings(types)

	for _, opType := range types {
		var inWindow []Operation
		for _, op := range t.history[opType] {
			if !op.StartedAt.Before(since) {
				inWindow = append(inWindow, op)
			}
		}
		if len(inWindow) == 0 {
			continue
		}
		r.Operations[opType] = compute(inWindow)

		p90 := percentile(sortedMS(inWindow), 90)
		for _, op := range inWindow {
			if ms(op.Duration) > p90 {
				r.Slow = append(r.Slow, op)
			}
		}
	}

	for _, v := range t.violations {
		if !v.At.Before(since) {
			r.Violations = append(r.Violations, v)
		}
	}
	return r
}

func compute(ops []Operation) Stats {
	s := Stats{Count: len(ops)}
	for _, op := range ops {
		if op.Success {
			s.Successes++
		} else {
			s.Failures++
		}
	}

	values := sortedMS(ops)
	var sum float64
	for _, v := range values {
		sum += v
	}
	s.MeanMS = sum / float64(len(values))
	s.MedianMS = percentile(values, 50)
	s.P95MS = percentile(values, 95)
	s.P99MS = percentile(values, 99)
	s.MinMS = values[0]
	s.MaxMS = values[len(values)-1]
	return s
}

func sortedMS(ops []Operation) []float64 {
	values := make([]float64, len(ops))
	for i, op := range ops {
		values[i] = ms(op.Duration)
	}
	sort.Float64s(values)
	return values
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
