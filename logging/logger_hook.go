package logging

import (
	"log/slog"
)

// LoggerHook derives the logger used while working on one flow. The
// orchestrator calls it for every operation so log capture stays optional.
type LoggerHook interface {
	LoggerForFlow(base *slog.Logger, flowID string) *slog.Logger
}

// TaggingHook only adds a flow_id attribute.
type TaggingHook struct{}

// LoggerForFlow returns base tagged with the flow id.
func (TaggingHook) LoggerForFlow(base *slog.Logger, flowID string) *slog.Logger {
	return base.With("flow_id", flowID)
}

// CapturingLoggerHook creates loggers whose records are also kept in a
// Collector under the flow id.
type CapturingLoggerHook struct {
	collector *Collector
	level     slog.Leveler
}

// NewCapturingLoggerHook creates a hook capturing records of level or above.
func NewCapturingLoggerHook(collector *Collector, level slog.Leveler) *CapturingLoggerHook {
	return &CapturingLoggerHook{
		collector: collector,
		level:     level,
	}
}

// Collector returns the collector the hook writes to.
func (p *CapturingLoggerHook) Collector() *Collector {
	return p.collector
}

// LoggerForFlow wraps base so its records are captured for flowID.
func (p *CapturingLoggerHook) LoggerForFlow(base *slog.Logger, flowID string) *slog.Logger {
	h := NewCapturingHandler(base.Handler(), p.collector, flowID, p.level)
	return slog.New(h).With("flow_id", flowID)
}
