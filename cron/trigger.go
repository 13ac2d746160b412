// Package cron runs maintenance jobs on cron schedules.
//
// A Trigger runs a list of named jobs whenever its schedule fires. A Manager
// builds one Trigger per entry of a multi-trigger spec such as
//
//	"performance_report:*/5 * * * *;active_flows:* * * * *"
//
// and starts them together. Triggers run until their context is cancelled.
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Job is one unit of scheduled maintenance work.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

// Run calls f.
func (f JobFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Trigger runs its jobs according to a cron schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	names    []string
	jobs     []Job
	logger   *slog.Logger
	now      func() time.Time
}

// parseSchedule accepts the standard 5-field format (minute, hour, day,
// month, weekday).
func parseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}
	return schedule, nil
}

// NewTrigger creates a Trigger that runs jobs, in order, on spec.
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewTrigger(spec string, names []string, jobs []Job, logger *slog.Logger) (*Trigger, error) {
	schedule, err := parseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if len(names) != len(jobs) {
		return nil, errors.New("each job needs a name")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Trigger{
		spec:     spec,
		schedule: schedule,
		names:    names,
		jobs:     jobs,
		logger:   logger.With("schedule", spec),
		now:      time.Now,
	}, nil
}

// Start launches a goroutine that runs the jobs according to the schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(t.now())
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		nextRun := t.schedule.Next(t.now())
		wait := nextRun.Sub(t.now())

		t.logger.Debug("waiting for next scheduled run",
			"next_run", nextRun,
			"wait_duration", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Debug("cron trigger shutting down")
			return
		case <-timer.C:
			t.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job now and returns the joined errors. A failing job
// does not stop the ones after it.
func (t *Trigger) RunOnce(ctx context.Context) error {
	var errs []error
	for i, job := range t.jobs {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			t.logger.Warn("scheduled job failed", "job", t.names[i], "error", err)
			errs = append(errs, err)
			continue
		}
		t.logger.Debug("scheduled job completed", "job", t.names[i], "duration", time.Since(start))
	}
	return errors.Join(errs...)
}
