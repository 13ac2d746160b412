package logging

import (
	"sort"
	"sync"
	"time"
)

// DefaultMaxPerFlow bounds the entries a Collector keeps for one flow.
const DefaultMaxPerFlow = 500

// LogEntry represents a single log record with structured data.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"` // "DEBUG", "INFO", "WARN", "ERROR"
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Collector provides thread-safe storage for the logs of each flow. Only the
// newest entries per flow are kept.
type Collector struct {
	mu      sync.RWMutex
	max     int
	logs    map[string][]LogEntry // flow id -> log entries
	dropped map[string]int
}

// NewCollector creates a Collector keeping at most maxPerFlow entries per
// flow. A non-positive value means DefaultMaxPerFlow.
func NewCollector(maxPerFlow int) *Collector {
	if maxPerFlow <= 0 {
		maxPerFlow = DefaultMaxPerFlow
	}
	return &Collector{
		max:     maxPerFlow,
		logs:    make(map[string][]LogEntry),
		dropped: make(map[string]int),
	}
}

// Add appends an entry for the flow, evicting the oldest when full.
func (c *Collector) Add(flowID string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs := append(c.logs[flowID], entry)
	if over := len(logs) - c.max; over > 0 {
		logs = append(logs[:0:0], logs[over:]...)
		c.dropped[flowID] += over
	}
	c.logs[flowID] = logs
}

// Logs returns a copy of the entries kept for the flow, oldest first.
func (c *Collector) Logs(flowID string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, exists := c.logs[flowID]
	if !exists {
		return nil
	}
	result := make([]LogEntry, len(logs))
	copy(result, logs)
	return result
}

// Dropped returns how many entries were evicted for the flow.
func (c *Collector) Dropped(flowID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped[flowID]
}

// Flows returns the ids of flows with captured logs, sorted.
func (c *Collector) Flows() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.logs))
	for id := range c.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget discards everything kept for the flow.
func (c *Collector) Forget(flowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.logs, flowID)
	delete(c.dropped, flowID)
}

// Clear resets the collector, removing all stored logs.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs = make(map[string][]LogEntry)
	c.dropped = make(map[string]int)
}
