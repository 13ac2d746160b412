package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/flowmaster/engine"
	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/flowtype"
	"github.com/nomis52/flowmaster/retry"
	"github.com/nomis52/flowmaster/validation"
)

// Phase result statuses.
const (
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// PhaseResult reports one ExecutePhase call.
type PhaseResult struct {
	FlowID          string         `json:"flow_id"`
	Phase           string         `json:"phase"`
	Status          string         `json:"status"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Attempts        int            `json:"attempts"`
	Results         map[string]any `json:"results,omitempty"`
	NextPhase       string         `json:"next_phase,omitempty"`
	FlowCompleted   bool           `json:"flow_completed"`
	Warnings        []string       `json:"warnings,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// errFlowDeleted aborts a post-execution write for a flow deleted while its
// phase ran.
var errFlowDeleted = errors.New("flow deleted during execution")

// errAlreadyApplied tells update that the stored flow already carries the
// write, which happens when a store commits but reports a transient error.
var errAlreadyApplied = errors.New("write already applied")

// checkExecutable returns an *InvalidStateError unless a phase may start now.
func checkExecutable(f *flow.Flow, now time.Time) error {
	m := &f.Master
	if !m.Status.IsActive() {
		return &InvalidStateError{FlowID: m.FlowID, Current: m.Status, Attempted: "execute phase"}
	}
	if lease := m.PersistenceData.Execution; lease.Live(now) {
		return &InvalidStateError{
			FlowID:    m.FlowID,
			Current:   m.Status,
			Attempted: "execute phase",
			Reason:    fmt.Sprintf("phase %s is already executing until %s", lease.Phase, lease.ExpiresAt.Format(time.RFC3339)),
		}
	}
	return nil
}

// ExecutePhase runs one phase of a flow.
//
// Phase input is validated before any state changes, so a rejected input
// leaves the flow untouched. The flow is then marked running and an
// execution lease taken in one compare-and-swap write; a concurrent caller
// that finds the lease held gets an *InvalidStateError. The task engine runs
// under the retry policy with the phase timeout applied to each attempt.
//
// On success the result is stored on the child record and the flow advances
// to the next phase, or completes after the last one. On terminal failure the
// flow is marked failed, and the returned *ExecutionError wraps the engine's
// error; the PhaseResult is returned alongside it.
func (o *Orchestrator) ExecutePhase(ctx context.Context, scope flow.Scope, flowID, phase string, input map[string]any) (res *PhaseResult, err error) {
	c := o.begin(OpExecutePhase, scope, flowID)
	c.detail["phase"] = phase
	defer func() { c.finish(err) }()

	logger := o.flowLogger(flowID).With("phase", phase)

	f, err := o.load(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}
	c.detail["flow_type"] = f.Master.FlowType
	if err := checkExecutable(f, o.now()); err != nil {
		return nil, err
	}
	cfg, err := o.flowConfig(f.Master.FlowType)
	if err != nil {
		return nil, err
	}
	pc, ok := cfg.Phase(phase)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a phase of %s", ErrUnknownPhase, phase, cfg.Name())
	}

	verdict, err := o.validators.Validate(ctx, pc.Validators, validation.Input{
		FlowType:   cfg,
		Phase:      pc,
		PhaseInput: input,
		Child:      f.Child,
	})
	if err != nil {
		return nil, fmt.Errorf("phase %s: %w", phase, err)
	}
	if !verdict.Valid {
		logger.Info("phase input rejected", "errors", verdict.Errors)
		c.detail["validation_errors"] = verdict.Errors
		return nil, &ValidationError{Phase: phase, Errors: verdict.Errors, Warnings: verdict.Warnings}
	}

	policy := o.policy.WithAttemptTimeout(o.timeoutFor(pc))
	start := o.now()
	lease := &flow.Lease{
		Phase:      phase,
		Owner:      o.owner + "/" + uuid.NewString(),
		AcquiredAt: start,
		ExpiresAt:  start.Add(policy.Budget() + o.leaseGrace),
	}

	f, err = o.update(ctx, f, func(f *flow.Flow) error {
		if held := f.Master.PersistenceData.Execution; held != nil && held.Owner == lease.Owner {
			return errAlreadyApplied
		}
		if err := checkExecutable(f, o.now()); err != nil {
			return err
		}
		startPhase(f, pc, lease, verdict.Warnings, scope.Actor(), start)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("phase started", "timeout", policy.AttemptTimeout, "max_attempts", policy.MaxAttempts)

	results, outcome, runErr := retry.Do(ctx, policy, o.classifier, func(ctx context.Context, attempt int) (map[string]any, error) {
		if attempt > 1 {
			logger.Warn("retrying phase", "attempt", attempt)
		}
		return o.engine.Run(ctx, phase, maps.Clone(input), engine.TaskContext{
			FlowID:          flowID,
			FlowType:        cfg.Name(),
			Scope:           scope,
			Task:            pc.Task,
			Attempt:         attempt,
			Logger:          logger.With("attempt", attempt),
			PreviousResults: cloneResults(f.Child.PhaseResults),
		})
	})
	end := o.now()
	timing := flow.PhaseTiming{
		Attempts:    outcome.Attempts,
		DurationMS:  end.Sub(start).Milliseconds(),
		StartedAt:   start,
		CompletedAt: end,
	}
	c.detail["attempts"] = outcome.Attempts
	c.detail["duration_ms"] = timing.DurationMS

	// The caller may have given up; the outcome is still recorded.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if runErr != nil {
		return o.recordFailure(pctx, f, pc, lease, timing, unwrapExhausted(runErr), c, logger)
	}
	return o.recordSuccess(pctx, f, cfg, pc, lease, timing, results, verdict.Warnings, c, logger)
}

func (o *Orchestrator) timeoutFor(pc flowtype.PhaseConfig) time.Duration {
	if pc.Timeout > 0 {
		return pc.Timeout
	}
	return o.phaseTimeout
}

func unwrapExhausted(err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Err
	}
	return err
}

// startPhase marks the flow running under lease.
func startPhase(f *flow.Flow, pc flowtype.PhaseConfig, lease *flow.Lease, warnings []string, actor string, now time.Time) {
	f.Master.Status = flow.StatusRunning
	f.Master.PersistenceData.Execution = lease
	f.Child.Status = pc.Status()
	f.Child.CurrentPhase = pc.Name
	for _, w := range warnings {
		f.Child.Warnings = append(f.Child.Warnings, flow.Issue{Phase: pc.Name, Message: w, At: now})
	}
	f.Master.AppendLog(flow.LogEntry{At: now, Actor: actor, Action: "phase_started", Phase: pc.Name})
}

// releaseLease clears the lease if it is still ours. It fails when the flow
// was deleted or another execution took the lease over, and returns
// errAlreadyApplied when our own release is already stored.
func releaseLease(f *flow.Flow, lease *flow.Lease) error {
	pd := &f.Master.PersistenceData
	if pd.Execution == nil && pd.LastExecution == lease.Owner {
		return errAlreadyApplied
	}
	if f.Master.Status == flow.StatusDeleted {
		return errFlowDeleted
	}
	current := pd.Execution
	if current == nil || current.Owner != lease.Owner {
		return &InvalidStateError{
			FlowID:    f.ID(),
			Current:   f.Master.Status,
			Attempted: "record phase " + lease.Phase,
			Reason:    "execution lease was lost",
		}
	}
	pd.Execution = nil
	pd.LastExecution = lease.Owner
	return nil
}

func addMetric(m *flow.Master, name string, delta float64) {
	if m.PerformanceMetrics == nil {
		m.PerformanceMetrics = make(map[string]float64)
	}
	m.PerformanceMetrics[name] += delta
}

func setTiming(m *flow.Master, phase string, t flow.PhaseTiming) {
	if m.PhaseExecutionTimes == nil {
		m.PhaseExecutionTimes = make(map[string]flow.PhaseTiming)
	}
	m.PhaseExecutionTimes[phase] = t
}

func (o *Orchestrator) recordSuccess(ctx context.Context, f *flow.Flow, cfg *flowtype.FlowConfig, pc flowtype.PhaseConfig,
	lease *flow.Lease, timing flow.PhaseTiming, results map[string]any, warnings []string, c *call, logger *slog.Logger) (*PhaseResult, error) {
	phase := pc.Name
	timing.Status = PhaseCompleted
	next, hasNext := cfg.NextPhase(phase)

	f, err := o.update(ctx, f, func(f *flow.Flow) error {
		if err := releaseLease(f, lease); err != nil {
			return err
		}
		m, ch := &f.Master, &f.Child
		if ch.PhaseResults == nil {
			ch.PhaseResults = make(map[string]map[string]any)
		}
		ch.PhaseResults[phase] = results
		if !slices.Contains(m.PersistenceData.CompletedPhases, phase) {
			m.PersistenceData.CompletedPhases = append(m.PersistenceData.CompletedPhases, phase)
		}
		m.PersistenceData.LastCompletedPhase = phase
		setTiming(m, phase, timing)
		addMetric(m, "total_execution_ms", float64(timing.DurationMS))
		addMetric(m, "phases_completed", 1)

		if !hasNext {
			ch.Status = flow.ChildCompleted
			ch.CurrentPhase = phase
			ch.NextPhase = ""
			ch.Progress = 100
			flow.SyncTerminal(f)
			m.AppendLog(flow.LogEntry{At: timing.CompletedAt, Actor: c.scope.Actor(), Action: "flow_completed", Phase: phase})
			return nil
		}

		ch.CurrentPhase = next
		ch.NextPhase, _ = cfg.NextPhase(next)
		ch.Progress = cfg.Progress(len(m.PersistenceData.CompletedPhases))
		// A pause requested while the phase ran stays in force.
		if m.Status == flow.StatusPaused {
			ch.Status = flow.ChildPaused
		} else {
			m.Status = flow.StatusRunning
			ch.Status = pc.CompletedStatus()
		}
		m.AppendLog(flow.LogEntry{At: timing.CompletedAt, Actor: c.scope.Actor(), Action: "phase_completed", Phase: phase})
		return nil
	})
	if err != nil {
		if errors.Is(err, errFlowDeleted) {
			err = &InvalidStateError{FlowID: c.flowID, Current: flow.StatusDeleted, Attempted: "record phase " + phase, Reason: "flow was deleted while the phase ran"}
		}
		logger.Error("failed to record phase result", "error", err)
		return nil, err
	}

	c.detail["status"] = PhaseCompleted
	logger.Info("phase completed", "attempts", timing.Attempts, "duration_ms", timing.DurationMS, "next_phase", next, "flow_completed", !hasNext)
	return &PhaseResult{
		FlowID:          f.ID(),
		Phase:           phase,
		Status:          PhaseCompleted,
		ExecutionTimeMS: timing.DurationMS,
		Attempts:        timing.Attempts,
		Results:         results,
		NextPhase:       next,
		FlowCompleted:   !hasNext,
		Warnings:        warnings,
	}, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, f *flow.Flow, pc flowtype.PhaseConfig,
	lease *flow.Lease, timing flow.PhaseTiming, cause error, c *call, logger *slog.Logger) (*PhaseResult, error) {
	phase := pc.Name
	timing.Status = PhaseFailed
	timing.Error = cause.Error()
	execErr := &ExecutionError{Phase: phase, Attempts: timing.Attempts, Err: cause}

	_, err := o.update(ctx, f, func(f *flow.Flow) error {
		if err := releaseLease(f, lease); err != nil {
			return err
		}
		m, ch := &f.Master, &f.Child
		setTiming(m, phase, timing)
		addMetric(m, "total_execution_ms", float64(timing.DurationMS))
		addMetric(m, "phases_failed", 1)
		ch.Status = flow.ChildFailed
		ch.CurrentPhase = phase
		ch.Errors = append(ch.Errors, flow.Issue{Phase: phase, Message: cause.Error(), At: timing.CompletedAt})
		flow.SyncTerminal(f)
		m.AppendLog(flow.LogEntry{At: timing.CompletedAt, Actor: c.scope.Actor(), Action: "phase_failed", Phase: phase, Detail: cause.Error()})
		return nil
	})
	switch {
	case errors.Is(err, errFlowDeleted):
		logger.Warn("phase failed after flow was deleted", "error", cause)
	case err != nil:
		logger.Error("failed to record phase failure", "error", err, "cause", cause)
		return nil, errors.Join(execErr, err)
	}

	c.detail["status"] = PhaseFailed
	logger.Error("phase failed", "attempts", timing.Attempts, "duration_ms", timing.DurationMS, "error", cause)
	return &PhaseResult{
		FlowID:          c.flowID,
		Phase:           phase,
		Status:          PhaseFailed,
		ExecutionTimeMS: timing.DurationMS,
		Attempts:        timing.Attempts,
		Error:           cause.Error(),
	}, execErr
}

func cloneResults(in map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for k, v := range in {
		out[k] = maps.Clone(v)
	}
	return out
}
