package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Manager owns the triggers built from a multi-trigger spec.
type Manager struct {
	triggers []*Trigger
	specs    []TriggerSpec
	logger   *slog.Logger
}

// NewManager creates a Manager from spec, resolving job names in jobs.
// See ParseTriggerSpecs for the spec format.
func NewManager(spec string, jobs map[string]Job, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cron")

	available := make(map[string]bool, len(jobs))
	for name := range jobs {
		available[name] = true
	}
	specs, err := ParseTriggerSpecs(spec, available)
	if err != nil {
		return nil, err
	}

	triggers := make([]*Trigger, 0, len(specs))
	for _, ts := range specs {
		resolved := make([]Job, len(ts.Jobs))
		for i, name := range ts.Jobs {
			resolved[i] = jobs[name]
		}
		trigger, err := NewTrigger(ts.CronSpec, ts.Jobs, resolved, logger)
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s:%s': %w", strings.Join(ts.Jobs, ","), ts.CronSpec, err)
		}
		triggers = append(triggers, trigger)
	}

	for i, trigger := range triggers {
		logger.Info("trigger registered",
			"index", i,
			"jobs", specs[i].Jobs,
			"schedule", specs[i].CronSpec,
			"next_run", trigger.NextRun(),
		)
	}

	return &Manager{triggers: triggers, specs: specs, logger: logger}, nil
}

// Start launches all triggers. Returns immediately; the triggers stop when
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for _, t := range m.triggers {
		t.Start(ctx)
	}
}

// Specs returns the parsed trigger specifications.
func (m *Manager) Specs() []TriggerSpec {
	return m.specs
}

// NextRun returns the earliest scheduled run across all triggers, or the
// zero time if there are none.
func (m *Manager) NextRun() time.Time {
	var earliest time.Time
	for _, t := range m.triggers {
		next := t.NextRun()
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest
}
