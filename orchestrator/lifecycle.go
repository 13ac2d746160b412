package orchestrator

import (
	"context"
	"errors"
	"maps"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/logging"
	"github.com/nomis52/flowmaster/store"
)

// DeleteOptions control DeleteFlow.
type DeleteOptions struct {
	// Hard removes both records after the soft delete has been written.
	Hard   bool
	Reason string
}

func pausable(s flow.Status) bool {
	switch s {
	case flow.StatusRunning, flow.StatusInitialized, flow.StatusResumed:
		return true
	}
	return false
}

// PauseFlow stops a flow from being advanced until it is resumed. A phase
// already executing finishes and records its result, but the flow stays
// paused.
func (o *Orchestrator) PauseFlow(ctx context.Context, scope flow.Scope, flowID, reason string) (summary *Summary, err error) {
	c := o.begin(OpPauseFlow, scope, flowID)
	c.detail["reason"] = reason
	defer func() { c.finish(err) }()

	f, err := o.load(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}
	f, err = o.update(ctx, f, func(f *flow.Flow) error {
		if !pausable(f.Master.Status) {
			return &InvalidStateError{FlowID: flowID, Current: f.Master.Status, Attempted: "pause"}
		}
		now := o.now()
		f.Master.Status = flow.StatusPaused
		f.Master.PersistenceData.PauseReason = reason
		f.Master.PersistenceData.PausedAt = timePtr(now)
		// A running phase keeps its in-progress status until it records.
		if f.Master.PersistenceData.Execution == nil {
			f.Child.Status = flow.ChildPaused
		}
		f.Child.PausePoints = append(f.Child.PausePoints, flow.PausePoint{Phase: f.Child.CurrentPhase, Reason: reason, At: now})
		f.Master.AppendLog(flow.LogEntry{At: now, Actor: scope.Actor(), Action: "paused", Phase: f.Child.CurrentPhase, Detail: reason})
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.flowLogger(flowID).Info("flow paused", "reason", reason, "phase", f.Child.CurrentPhase)
	return summarize(f, nil), nil
}

// ResumeFlow continues a paused flow from the phase after the last one that
// completed, so a completed phase is never run twice.
func (o *Orchestrator) ResumeFlow(ctx context.Context, scope flow.Scope, flowID string, resumeContext map[string]any) (summary *Summary, err error) {
	c := o.begin(OpResumeFlow, scope, flowID)
	defer func() { c.finish(err) }()

	f, err := o.load(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}
	cfg, err := o.flowConfig(f.Master.FlowType)
	if err != nil {
		return nil, err
	}

	var phase string
	f, err = o.update(ctx, f, func(f *flow.Flow) error {
		if f.Master.Status != flow.StatusPaused {
			return &InvalidStateError{FlowID: flowID, Current: f.Master.Status, Attempted: "resume", Reason: "flow is not paused"}
		}
		next, ok := cfg.NextPhase(f.Master.PersistenceData.LastCompletedPhase)
		if !ok {
			return &InvalidStateError{FlowID: flowID, Current: f.Master.Status, Attempted: "resume", Reason: "no phase left to run"}
		}
		phase = next

		now := o.now()
		pd := &f.Master.PersistenceData
		pd.ResumeContext = maps.Clone(resumeContext)
		pd.ResumedAt = timePtr(now)
		pd.ResumePhase = next
		f.Master.Status = flow.StatusResumed
		f.Child.CurrentPhase = next
		f.Child.NextPhase, _ = cfg.NextPhase(next)
		if pd.Execution == nil {
			f.Child.Status = flow.ChildResumed
		}
		f.Master.AppendLog(flow.LogEntry{At: now, Actor: scope.Actor(), Action: "resumed", Phase: next})
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.detail["resume_phase"] = phase
	o.flowLogger(flowID).Info("flow resumed", "phase", phase)
	return summarize(f, nil), nil
}

// RetryFlow makes a failed flow executable again. The failed phase is run
// from scratch by the next ExecutePhase call.
func (o *Orchestrator) RetryFlow(ctx context.Context, scope flow.Scope, flowID string) (summary *Summary, err error) {
	c := o.begin(OpRetryFlow, scope, flowID)
	defer func() { c.finish(err) }()

	f, err := o.load(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}
	f, err = o.update(ctx, f, func(f *flow.Flow) error {
		if f.Master.Status != flow.StatusFailed {
			return &InvalidStateError{FlowID: flowID, Current: f.Master.Status, Attempted: "retry", Reason: "only failed flows can be retried"}
		}
		now := o.now()
		f.Master.Status = flow.StatusResumed
		f.Master.PersistenceData.ResumedAt = timePtr(now)
		f.Master.PersistenceData.ResumePhase = f.Child.CurrentPhase
		f.Child.Status = flow.ChildResumed
		f.Master.AppendLog(flow.LogEntry{At: now, Actor: scope.Actor(), Action: "retried", Phase: f.Child.CurrentPhase})
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.detail["phase"] = f.Child.CurrentPhase
	o.flowLogger(flowID).Info("flow retried", "phase", f.Child.CurrentPhase)
	return summarize(f, nil), nil
}

// DeleteFlow marks a flow deleted. With opts.Hard the records are then
// removed from the store; the soft delete is written first so an interrupted
// hard delete leaves a deleted flow rather than a half-removed one.
func (o *Orchestrator) DeleteFlow(ctx context.Context, scope flow.Scope, flowID string, opts DeleteOptions) (summary *Summary, err error) {
	c := o.begin(OpDeleteFlow, scope, flowID)
	c.detail["hard"] = opts.Hard
	if opts.Reason != "" {
		c.detail["reason"] = opts.Reason
	}
	defer func() { c.finish(err) }()

	f, err := o.load(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}

	if !opts.Hard || f.Master.Status != flow.StatusDeleted {
		f, err = o.update(ctx, f, func(f *flow.Flow) error {
			if f.Master.Status == flow.StatusDeleted {
				return &InvalidStateError{FlowID: flowID, Current: f.Master.Status, Attempted: "delete", Reason: "flow is already deleted"}
			}
			now := o.now()
			f.Child.Status = flow.ChildCancelled
			flow.SyncTerminal(f)
			f.Master.PersistenceData.DeleteReason = opts.Reason
			f.Master.PersistenceData.DeletedAt = timePtr(now)
			f.Master.AppendLog(flow.LogEntry{At: now, Actor: scope.Actor(), Action: "deleted", Detail: opts.Reason})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	logger := o.flowLogger(flowID)

	if opts.Hard {
		if err := o.store.Delete(ctx, flowID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, o.storeError("delete", flowID, err)
		}
		logger.Info("flow hard deleted", "reason", opts.Reason)
		if hook, ok := o.hook.(*logging.CapturingLoggerHook); ok {
			hook.Collector().Forget(flowID)
		}
		return summarize(f, nil), nil
	}

	logger.Info("flow deleted", "reason", opts.Reason)
	return summarize(f, nil), nil
}
