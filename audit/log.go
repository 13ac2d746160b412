// Package audit keeps an append-only record of orchestrator operations.
//
// The Log holds the most recent entries in memory, oldest evicted first, and
// forwards every entry to any configured sinks. Sinks run asynchronously
// behind a bounded queue: a slow sink loses entries (counted by Dropped)
// rather than slowing down flow operations.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept in memory.
const DefaultCapacity = 10000

const defaultQueueSize = 256

// Entry is one audited operation.
type Entry struct {
	Seq             uint64         `json:"seq"`
	At              time.Time      `json:"at"`
	OperationType   string         `json:"operation_type"`
	FlowID          string         `json:"flow_id,omitempty"`
	Actor           string         `json:"actor"`
	ClientAccountID string         `json:"client_account_id,omitempty"`
	EngagementID    string         `json:"engagement_id,omitempty"`
	Success         bool           `json:"success"`
	Detail          map[string]any `json:"detail,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	FlowID          string
	OperationType   string
	Actor           string
	ClientAccountID string
	Success         *bool
	Since           time.Time
	// Limit keeps only the most recent matches when positive.
	Limit int
}

func (f Filter) match(e Entry) bool {
	switch {
	case f.FlowID != "" && e.FlowID != f.FlowID:
		return false
	case f.OperationType != "" && e.OperationType != f.OperationType:
		return false
	case f.Actor != "" && e.Actor != f.Actor:
		return false
	case f.ClientAccountID != "" && e.ClientAccountID != f.ClientAccountID:
		return false
	case f.Success != nil && e.Success != *f.Success:
		return false
	case !f.Since.IsZero() && e.At.Before(f.Since):
		return false
	}
	return true
}

// Sink receives entries after they are recorded.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

type sinkWorker struct {
	name  string
	sink  Sink
	queue chan Entry
}

// Log is a bounded, append-only audit log. It is safe for concurrent use.
type Log struct {
	logger    *slog.Logger
	now       func() time.Time
	queueSize int

	mu      sync.RWMutex
	entries []Entry // ring buffer
	start   int     // index of the oldest entry
	count   int
	seq     uint64
	dropped uint64
	closed  bool

	workers []*sinkWorker
	wg      sync.WaitGroup
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithQueueSize sets how many entries each sink may fall behind.
func WithQueueSize(n int) Option {
	return func(l *Log) {
		l.queueSize = n
	}
}

// WithSink forwards every entry to sink under the given name.
func WithSink(name string, sink Sink) Option {
	return func(l *Log) {
		l.workers = append(l.workers, &sinkWorker{name: name, sink: sink})
	}
}

// New creates a Log holding up to capacity entries.
func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		logger:    slog.Default(),
		now:       time.Now,
		queueSize: defaultQueueSize,
		entries:   make([]Entry, capacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "audit")

	for _, w := range l.workers {
		w.queue = make(chan Entry, l.queueSize)
		l.wg.Add(1)
		go l.drain(w)
	}
	return l
}

func (l *Log) drain(w *sinkWorker) {
	defer l.wg.Done()
	for e := range w.queue {
		if err := w.sink.Write(context.Background(), e); err != nil {
			l.logger.Warn("audit sink write failed", "sink", w.name, "seq", e.Seq, "error", err)
		}
	}
}

// Record appends e, assigning its sequence number and timestamp, and returns
// the stored entry.
func (l *Log) Record(e Entry) Entry {
	l.mu.Lock()
	l.seq++
	e.Seq = l.seq
	e.At = l.now()

	capacity := len(l.entries)
	if l.count < capacity {
		l.entries[(l.start+l.count)%capacity] = e
		l.count++
	} else {
		l.entries[l.start] = e
		l.start = (l.start + 1) % capacity
	}

	if !l.closed {
		for _, w := range l.workers {
			select {
			case w.queue <- e:
			default:
				l.dropped++
			}
		}
	}
	l.mu.Unlock()
	return e
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Dropped returns how many sink deliveries were discarded because a sink
// queue was full.
func (l *Log) Dropped() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

// Query returns matching entries, oldest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	capacity := len(l.entries)
	for i := 0; i < l.count; i++ {
		e := l.entries[(l.start+i)%capacity]
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// ByFlow returns the entries for a flow, oldest first.
func (l *Log) ByFlow(flowID string) []Entry {
	return l.Query(Filter{FlowID: flowID})
}

// ByOperation returns the entries for an operation type, oldest first.
func (l *Log) ByOperation(op string) []Entry {
	return l.Query(Filter{OperationType: op})
}

// Close stops accepting sink deliveries and waits for queued entries to be
// written. Record remains usable for the in-memory log.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, w := range l.workers {
		close(w.queue)
	}
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}
