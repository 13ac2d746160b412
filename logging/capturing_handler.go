package logging

import (
	"context"
	"log/slog"
	"strings"
)

// CapturingHandler wraps an slog.Handler, copying every record at or above
// its capture level into a Collector under one flow id.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *Collector
	flowID     string
	level      slog.Leveler
	attrs      []slog.Attr // from WithAttrs, keys already qualified by group
	groups     []string
}

// NewCapturingHandler creates a handler that captures records of level or
// above for flowID while passing records the underlying handler accepts
// through to it. A nil level captures everything.
func NewCapturingHandler(underlying slog.Handler, collector *Collector, flowID string, level slog.Leveler) *CapturingHandler {
	if level == nil {
		level = slog.LevelDebug
	}
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		flowID:     flowID,
		level:      level,
	}
}

// Enabled reports whether either the capture or the underlying handler wants
// records of this level.
func (h *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() || h.underlying.Enabled(ctx, level)
}

// Handle captures the record and passes it on if the underlying handler is
// enabled for its level.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		entry := LogEntry{
			Time:       r.Time,
			Level:      r.Level.String(),
			Message:    r.Message,
			Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
		}
		for _, attr := range h.attrs {
			entry.Attributes[attr.Key] = resolveValue(attr.Value)
		}
		prefix := h.prefix()
		r.Attrs(func(a slog.Attr) bool {
			entry.Attributes[prefix+a.Key] = resolveValue(a.Value)
			return true
		})
		h.collector.Add(h.flowID, entry)
	}

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

func (h *CapturingHandler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// WithAttrs returns a new CapturingHandler with additional attributes. It
// must not return the underlying handler or capture would stop for loggers
// derived with With.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := h.prefix()
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}

	clone := *h
	clone.underlying = h.underlying.WithAttrs(attrs)
	clone.attrs = newAttrs
	return &clone
}

// WithGroup returns a new CapturingHandler that qualifies later attribute
// keys with name.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name

	clone := *h
	clone.underlying = h.underlying.WithGroup(name)
	clone.groups = newGroups
	return &clone
}

// resolveValue converts a slog.Value to a JSON-serializable value.
func resolveValue(v slog.Value) any {
	v = v.Resolve()

	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindAny:
		a := v.Any()
		if err, ok := a.(error); ok {
			return err.Error()
		}
		return a
	case slog.KindGroup:
		attrs := v.Group()
		group := make(map[string]any, len(attrs))
		for _, attr := range attrs {
			group[attr.Key] = resolveValue(attr.Value)
		}
		return group
	default:
		return v.Any()
	}
}
