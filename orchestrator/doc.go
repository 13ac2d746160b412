// Package orchestrator drives multi-phase flows through their lifecycle.
//
// A flow is created from a registered flow type, then advanced one phase at a
// time by explicit ExecutePhase calls. Each call validates the phase input,
// hands the work to a task engine under a retry policy, and records the
// result on the flow's child record. The orchestrator runs no background
// scheduler; callers (an API handler, a job queue, the flowctl CLI) decide
// when the next phase runs.
//
// # Records
//
// Every flow is a master/child pair stored as one unit (see package flow).
// The master carries the coarse status:
//
//	initialized -> running -> completed
//	                  |  ^
//	                  v  |
//	               paused -> resumed
//
//	running -> failed -> resumed (RetryFlow)
//	any active status -> deleted
//
// The child carries the fine-grained status, current and next phase,
// progress and per-phase results. A terminal child status is always written
// together with the matching master status.
//
// # Concurrency
//
// An Orchestrator holds no per-flow state, so several may share a store
// across processes. Every write is a compare-and-swap on the master's
// version. ExecutePhase flips the flow to running and takes an execution
// lease in one such write; a second ExecutePhase for the same flow sees the
// live lease and fails with an *InvalidStateError. A lease outlives the whole
// retry budget by a grace period, after which it counts as abandoned and may
// be taken over.
//
// Pause and delete may land while a phase is executing. The phase result is
// still recorded on the child and a pause stays in force. A flow deleted
// mid-phase keeps its deleted status and the result is dropped.
//
// # Errors
//
// Operations return sentinel errors (ErrFlowNotFound, ErrUnknownPhase, ...)
// wrapped with context, or the typed *InvalidStateError, *ValidationError,
// *ExecutionError and *PersistenceError. Use errors.Is and errors.As.
// Flows owned by another tenant are reported as ErrFlowNotFound.
//
// # Observability
//
// Every public operation is timed by a performance.Recorder and produces
// exactly one audit entry, failures included. Per-flow loggers come from a
// logging.LoggerHook; with a logging.CapturingLoggerHook the captured records
// are returned by GetFlowStatus with details.
//
// # Usage
//
//	orch := orchestrator.New(s, types, nil, router,
//		orchestrator.WithLogger(logger),
//		orchestrator.WithTracker(tracker),
//	)
//	sum, err := orch.CreateFlow(ctx, scope, orchestrator.CreateRequest{FlowType: "discovery"})
//	if err != nil {
//		return err
//	}
//	res, err := orch.ExecutePhase(ctx, scope, sum.FlowID, sum.CurrentPhase, input)
package orchestrator
