package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hensuio/hensu/emit"
	"github.com/hensuio/hensu/forkjoin"
	"github.com/hensuio/hensu/lease"
	"github.com/hensuio/hensu/review"
	"github.com/hensuio/hensu/store"
	"github.com/hensuio/hensu/workflow"
)

// ExecutionStatus is the tagged-variant discriminator of ExecutionResult, per
// spec §7's Completed/Rejected/Failed result, extended with Paused (awaiting
// a human decision) and Cancelled.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "Completed"
	StatusRejected  ExecutionStatus = "Rejected"
	StatusFailed    ExecutionStatus = "Failed"
	StatusPaused    ExecutionStatus = "Paused"
	StatusCancelled ExecutionStatus = "Cancelled"
)

// defaultMaxBacktracks is the auto-backtrack limit when Executor is built
// with maxBacktracks <= 0 (spec §6's default of 3).
const defaultMaxBacktracks = 3

// ExecutionResult is what a traversal settles into: the tagged variant
// Completed(exitStatus, finalState) | Rejected(reason, finalState) |
// Failed(reason, finalState), extended with Paused and Cancelled.
type ExecutionResult struct {
	Status     ExecutionStatus
	ExitStatus workflow.EndStatus // set only when Status == Completed
	Reason     string             // set for Rejected/Failed/Cancelled
	Output     string             // the last dispatched node's output
	FinalState *workflow.HensuState
}

// Executor is C10, the Workflow Executor: the graph traversal loop driving
// one execution from its current node to a terminal or paused state,
// delegating per-node work to the Dispatcher (C9) and persisting a
// checkpoint after every step via the Snapshot Store (C11) and Lease
// Manager (C12).
//
// Grounded on the teacher's Run/runConcurrent loop in graph/engine.go: a
// for loop that looks up the current node, dispatches it, persists, and
// follows routing — generalized here from the teacher's Reducer-merged
// Delta to this package's transition-selection algorithm, and from
// MaxSteps/ctx-cancellation to rubric-gated auto-backtrack and a
// cooperative, between-nodes cancellation signal.
type Executor struct {
	dispatcher    *Dispatcher
	states        store.StateRepository
	leases        *lease.Manager
	events        *emit.Broadcaster
	metrics       *Metrics
	maxBacktracks int

	mu      sync.Mutex
	cancels map[string]chan struct{}
}

// NewExecutor builds an Executor. states and leases may back onto in-memory
// implementations (store.MemoryStateRepository, lease.New(nil, ...)) in
// test/single-node mode. Checkpoint saves are stamped with
// leases.ServerNodeID() either way; when leases.IsActive() == false, only
// heartbeat renewal and stale-lease claiming become no-ops.
// metrics may be nil, in which case instrumentation is skipped.
func NewExecutor(dispatcher *Dispatcher, states store.StateRepository, leases *lease.Manager, events *emit.Broadcaster, metrics *Metrics, maxBacktracks int) *Executor {
	return &Executor{
		dispatcher:    dispatcher,
		states:        states,
		leases:        leases,
		events:        events,
		metrics:       metrics,
		maxBacktracks: maxBacktracks,
		cancels:       make(map[string]chan struct{}),
	}
}

// Cancel requests cancellation of a running execution. It is cooperative:
// the executor finishes whichever node is currently in flight, then
// observes the signal before starting the next one and records a cancelled
// terminal snapshot. A Cancel for an executionID not currently running is a
// no-op.
func (e *Executor) Cancel(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.cancels[executionID]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

func (e *Executor) registerCancel(executionID string) chan struct{} {
	ch := make(chan struct{})
	e.mu.Lock()
	e.cancels[executionID] = ch
	e.mu.Unlock()
	return ch
}

func (e *Executor) unregisterCancel(executionID string) {
	e.mu.Lock()
	delete(e.cancels, executionID)
	e.mu.Unlock()
}

// Run drives tenantID/executionID's traversal of wf starting from state's
// CurrentNodeID to a terminal or paused result. It blocks until settled;
// callers wanting startExecution's non-blocking contract run Run in a
// goroutine.
func (e *Executor) Run(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState) ExecutionResult {
	cancelCh := e.registerCancel(executionID)
	defer e.unregisterCancel(executionID)

	ctx = contextWithScope(ctx, executionID)

	e.metrics.IncActiveExecutions()
	defer e.metrics.DecActiveExecutions()

	e.publish(ctx, "", emit.KindExecutionStarted, "execution_started", nil)

	var runner forkjoin.RunFunc
	runner = func(ctx context.Context, startNodeID string, branchState *workflow.HensuState) (string, workflow.StepOutcome, error) {
		branchState.CurrentNodeID = startNodeID
		result := e.traverse(ctx, tenantID, executionID, wf, branchState, runner, cancelCh, false)
		outcome := workflow.OutcomeSuccess
		if result.Status != StatusCompleted || result.ExitStatus == workflow.EndFailure {
			outcome = workflow.OutcomeFailure
		}
		return result.Output, outcome, nil
	}

	result := e.traverse(ctx, tenantID, executionID, wf, state, runner, cancelCh, true)

	e.publish(ctx, "", emit.KindExecutionCompleted, "execution_completed", map[string]interface{}{
		"success": result.Status == StatusCompleted && result.ExitStatus != workflow.EndFailure,
		"status":  string(result.Status),
		"output":  state.Context.Filtered(),
	})
	return result
}

func contextWithScope(ctx context.Context, executionID string) context.Context {
	var scoped context.Context
	emit.RunAs(ctx, executionID, func(c context.Context) { scoped = c })
	return scoped
}

// traverse is the core loop (spec §4.10). checkpoint controls whether
// progress is persisted via C11/C12: true for the top-level execution, false
// for fork/parallel sub-traversals, whose results are collected by the Join
// node rather than independently checkpointed.
func (e *Executor) traverse(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState, runner forkjoin.RunFunc, cancelCh <-chan struct{}, checkpoint bool) ExecutionResult {
	var lastOutput string

	for {
		select {
		case <-cancelCh:
			return e.settle(ctx, tenantID, executionID, wf, state, checkpoint, workflow.ReasonCancelled,
				ExecutionResult{Status: StatusCancelled, Reason: "cancelled", Output: lastOutput, FinalState: state})
		default:
		}

		nodeID := state.CurrentNodeID
		node, ok := wf.Node(nodeID)
		if !ok {
			err := &ExecutionError{Code: CodeNodeNotFound, Message: fmt.Sprintf("node not found: %s", nodeID)}
			return e.settle(ctx, tenantID, executionID, wf, state, checkpoint, workflow.ReasonFailed,
				ExecutionResult{Status: StatusFailed, Reason: err.Error(), Output: lastOutput, FinalState: state})
		}

		if node.Type == workflow.NodeEnd {
			exit := workflow.EndSuccess
			if node.End != nil {
				exit = node.End.Status
			}
			reason := workflow.ReasonCompleted
			if exit == workflow.EndFailure {
				reason = workflow.ReasonFailed
			}
			state.CurrentNodeID = ""
			state.ClearLastRubric()
			return e.settle(ctx, tenantID, executionID, wf, state, checkpoint, reason,
				ExecutionResult{Status: StatusCompleted, ExitStatus: exit, Output: lastOutput, FinalState: state})
		}

		e.publish(ctx, nodeID, emit.KindNodeStarted, "node_started", nil)
		e.metrics.IncInflightNodes()
		dispatchStart := time.Now()
		result, err := e.dispatcher.Execute(ctx, executionID, nodeID, node, state, runner)
		e.metrics.DecInflightNodes()
		if err != nil {
			e.metrics.RecordStepLatency(nodeID, string(node.Type), "error", time.Since(dispatchStart))
			// Fatal per spec §4.10/§7: missing agent, unknown node type, or
			// missing generic handler.
			return e.settle(ctx, tenantID, executionID, wf, state, checkpoint, workflow.ReasonFailed,
				ExecutionResult{Status: StatusFailed, Reason: err.Error(), Output: lastOutput, FinalState: state})
		}
		lastOutput = result.Output
		e.metrics.RecordStepLatency(nodeID, string(node.Type), string(result.Outcome), time.Since(dispatchStart))

		state.AppendStep(workflow.ExecutionStep{NodeID: nodeID, Outcome: result.Outcome, Output: result.Output, Timestamp: time.Now()})
		if result.RubricEvaluation != nil {
			state.LastRubric = &workflow.LastRubric{NodeID: nodeID, Evaluation: *result.RubricEvaluation}
		} else {
			state.LastRubric = nil
		}
		e.publish(ctx, nodeID, emit.KindNodeCompleted, "node_completed", map[string]interface{}{"outcome": result.Outcome})

		outcome := result.Outcome
		rejectedByReview := false
		if decision, ok := result.Metadata["reviewDecision"].(review.Decision); ok {
			e.metrics.IncrementReviewDecisions(nodeID, string(decision.Kind))
			switch decision.Kind {
			case review.Reject:
				outcome = workflow.OutcomeFailure
				rejectedByReview = true
			case review.Pause:
				return e.settle(ctx, tenantID, executionID, wf, state, checkpoint, workflow.ReasonPaused,
					ExecutionResult{Status: StatusPaused, Output: lastOutput, FinalState: state})
			case review.Backtrack:
				if err := e.backtrack(ctx, tenantID, executionID, wf, state, nodeID, decision, checkpoint); err != nil {
					return e.settle(ctx, tenantID, executionID, wf, state, false, workflow.ReasonFailed,
						ExecutionResult{Status: StatusFailed, Reason: "persistence failure: " + err.Error(), Output: lastOutput, FinalState: state})
				}
				continue
			}
		}

		res, cont := e.advanceFrom(ctx, tenantID, executionID, wf, state, checkpoint, nodeID, node, outcome, result.RubricEvaluation, rejectedByReview, lastOutput)
		if cont {
			continue
		}
		return res
	}
}

// advanceFrom applies score-transition-then-auto-backtrack-then-Success/
// Failure transition selection (spec §9's precedence order) and retry
// accounting for one already-dispatched node, given its resolved outcome and
// rubric evaluation (if any). It is shared by traverse's normal dispatch
// path and Resume's paused-node decision path, which arrive at the same
// point by different means: a fresh dispatch versus a human decision applied
// to a previously-dispatched, paused result.
//
// The returned bool reports whether the caller should continue its loop
// (true) or return the ExecutionResult as final (false).
func (e *Executor) advanceFrom(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState, checkpoint bool, nodeID string, node *workflow.Node, outcome workflow.StepOutcome, rubricEval *workflow.Evaluation, rejectedByReview bool, lastOutput string) (ExecutionResult, bool) {
	if rubricEval != nil {
		score := rubricEval.Score
		if target, matched := matchScore(node.Transitions, score); matched {
			state.CurrentNodeID = target
			state.ClearLastRubric()
			if err := e.checkpointIfNeeded(ctx, tenantID, executionID, wf, state, checkpoint); err != nil {
				return e.settle(ctx, tenantID, executionID, wf, state, false, workflow.ReasonFailed,
					ExecutionResult{Status: StatusFailed, Reason: "persistence failure: " + err.Error(), Output: lastOutput, FinalState: state}), false
			}
			return ExecutionResult{}, true
		}
		if !rubricEval.Passed {
			count := state.BacktrackCounts[nodeID]
			if count < e.backtrackLimit() {
				state.BacktrackCounts[nodeID] = count + 1
				state.AppendBacktrack(workflow.BacktrackEvent{From: nodeID, To: nodeID, Reason: "auto_backtrack_rubric_failed"})
				state.ClearLastRubric()
				e.metrics.IncrementBacktracks(nodeID, "auto_rubric")
				e.publish(ctx, nodeID, emit.KindBacktrack, "auto_backtrack", map[string]interface{}{"to": nodeID})
				if err := e.checkpointIfNeeded(ctx, tenantID, executionID, wf, state, checkpoint); err != nil {
					return e.settle(ctx, tenantID, executionID, wf, state, false, workflow.ReasonFailed,
						ExecutionResult{Status: StatusFailed, Reason: "persistence failure: " + err.Error(), Output: lastOutput, FinalState: state}), false
				}
				return ExecutionResult{}, true
			}
		}
	}

	match, selErr := selectTransition(outcome, node.Transitions)
	if selErr != nil {
		if rejectedByReview {
			state.CurrentNodeID = ""
			return e.settle(ctx, tenantID, executionID, wf, state, checkpoint, workflow.ReasonRejected,
				ExecutionResult{Status: StatusRejected, Reason: "rejected by review with no failure transition", Output: lastOutput, FinalState: state}), false
		}
		err := &ExecutionError{Code: CodeNoTransitionMatch, Message: fmt.Sprintf("node %s: %v", nodeID, selErr)}
		return e.settle(ctx, tenantID, executionID, wf, state, checkpoint, workflow.ReasonFailed,
			ExecutionResult{Status: StatusFailed, Reason: err.Error(), Output: lastOutput, FinalState: state}), false
	}

	if outcome == workflow.OutcomeFailure && match.failure != nil {
		retries := state.RetryCounts[nodeID]
		if retries < match.failure.MaxRetries() {
			state.RetryCounts[nodeID] = retries + 1
			e.metrics.IncrementRetries(nodeID)
			// Stay on the current node: CurrentNodeID unchanged.
			if err := e.checkpointIfNeeded(ctx, tenantID, executionID, wf, state, checkpoint); err != nil {
				return e.settle(ctx, tenantID, executionID, wf, state, false, workflow.ReasonFailed,
					ExecutionResult{Status: StatusFailed, Reason: "persistence failure: " + err.Error(), Output: lastOutput, FinalState: state}), false
			}
			return ExecutionResult{}, true
		}
	}

	state.CurrentNodeID = match.target
	state.ClearLastRubric()
	if err := e.checkpointIfNeeded(ctx, tenantID, executionID, wf, state, checkpoint); err != nil {
		return e.settle(ctx, tenantID, executionID, wf, state, false, workflow.ReasonFailed,
			ExecutionResult{Status: StatusFailed, Reason: "persistence failure: " + err.Error(), Output: lastOutput, FinalState: state}), false
	}
	return ExecutionResult{}, true
}

// Resume continues a checkpointed or paused execution from snap. decision
// resolves a paused review checkpoint (review.Pause); it is nil-able and
// ignored when snap's reason is not ReasonPaused, since a plain checkpoint
// resume (e.g. after Recovery Sweeper reassignment) just re-enters traverse
// at CurrentNodeID with no pending decision.
func (e *Executor) Resume(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, snap *workflow.HensuSnapshot, decision *review.Decision) ExecutionResult {
	state := snap.State
	cancelCh := e.registerCancel(executionID)
	defer e.unregisterCancel(executionID)
	ctx = contextWithScope(ctx, executionID)

	var runner forkjoin.RunFunc
	runner = func(ctx context.Context, startNodeID string, branchState *workflow.HensuState) (string, workflow.StepOutcome, error) {
		branchState.CurrentNodeID = startNodeID
		result := e.traverse(ctx, tenantID, executionID, wf, branchState, runner, cancelCh, false)
		outcome := workflow.OutcomeSuccess
		if result.Status != StatusCompleted || result.ExitStatus == workflow.EndFailure {
			outcome = workflow.OutcomeFailure
		}
		return result.Output, outcome, nil
	}

	if snap.CheckpointReason == workflow.ReasonPaused {
		result, cont := e.resolvePause(ctx, tenantID, executionID, wf, state, decision)
		if !cont {
			return result
		}
	}

	return e.traverse(ctx, tenantID, executionID, wf, state, runner, cancelCh, true)
}

// resolvePause applies a human decision to a node left paused by the Review
// Gate, picking up the outcome and rubric evaluation it recorded before
// pausing (state.History's last step for this node, and state.LastRubric),
// then routes through advanceFrom exactly as a fresh dispatch would.
func (e *Executor) resolvePause(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState, override *review.Decision) (ExecutionResult, bool) {
	nodeID := state.CurrentNodeID
	node, ok := wf.Node(nodeID)
	if !ok {
		return ExecutionResult{Status: StatusFailed, Reason: fmt.Sprintf("node not found: %s", nodeID), FinalState: state}, false
	}

	decision := review.Decision{Kind: review.Approve}
	if override != nil {
		decision = *override
	}

	var lastOutput string
	outcome := workflow.OutcomeSuccess
	if step := lastStepFor(state, nodeID); step != nil {
		outcome = step.Outcome
		lastOutput = step.Output
	}
	var rubricEval *workflow.Evaluation
	if state.LastRubric != nil && state.LastRubric.NodeID == nodeID {
		eval := state.LastRubric.Evaluation
		rubricEval = &eval
	}

	rejectedByReview := false
	e.metrics.IncrementReviewDecisions(nodeID, string(decision.Kind))
	switch decision.Kind {
	case review.Reject:
		outcome = workflow.OutcomeFailure
		rejectedByReview = true
	case review.Pause:
		return ExecutionResult{Status: StatusPaused, Output: lastOutput, FinalState: state}, false
	case review.Backtrack:
		if err := e.backtrack(ctx, tenantID, executionID, wf, state, nodeID, decision, true); err != nil {
			return ExecutionResult{Status: StatusFailed, Reason: "persistence failure: " + err.Error(), Output: lastOutput, FinalState: state}, false
		}
		return ExecutionResult{}, true
	}

	return e.advanceFrom(ctx, tenantID, executionID, wf, state, true, nodeID, node, outcome, rubricEval, rejectedByReview, lastOutput)
}

// lastStepFor returns the most recent recorded ExecutionStep for nodeID, or
// nil if none: used to recover the outcome a paused node's dispatch produced
// before the Review Gate intervened.
func lastStepFor(state *workflow.HensuState, nodeID string) *workflow.ExecutionStep {
	for i := len(state.History) - 1; i >= 0; i-- {
		if s := state.History[i].Step; s != nil && s.NodeID == nodeID {
			return s
		}
	}
	return nil
}

func (e *Executor) backtrack(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState, fromNodeID string, decision review.Decision, checkpoint bool) error {
	target := decision.TargetNodeID
	if target == "" {
		target = fromNodeID
	}
	reason := decision.Reason
	if reason == "" {
		reason = "review_backtrack"
	}
	if decision.StateOverride != nil {
		state.Context = state.Context.Merge(decision.StateOverride)
	}
	state.AppendBacktrack(workflow.BacktrackEvent{From: fromNodeID, To: target, Reason: reason})
	state.BacktrackCounts[target] = 0
	state.ClearLastRubric()
	e.metrics.IncrementBacktracks(fromNodeID, "review")
	e.publish(ctx, fromNodeID, emit.KindBacktrack, "review_backtrack", map[string]interface{}{"to": target, "reason": reason})
	return e.checkpointIfNeeded(ctx, tenantID, executionID, wf, state, checkpoint)
}

func (e *Executor) backtrackLimit() int {
	if e.maxBacktracks <= 0 {
		return defaultMaxBacktracks
	}
	return e.maxBacktracks
}

func (e *Executor) checkpointIfNeeded(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState, checkpoint bool) error {
	if !checkpoint {
		return nil
	}
	return e.persist(ctx, tenantID, executionID, wf, state, workflow.ReasonCheckpoint)
}

func (e *Executor) persist(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState, reason workflow.CheckpointReason) error {
	snap := &workflow.HensuSnapshot{
		TenantID:         tenantID,
		ExecutionID:      executionID,
		WorkflowID:       wf.ID,
		State:            state,
		CurrentNodeID:    state.CurrentNodeID,
		CheckpointReason: reason,
		CheckpointTime:   time.Now(),
	}
	serverNodeID := ""
	if e.leases != nil {
		serverNodeID = e.leases.ServerNodeID()
	}
	snap.ApplyLease(serverNodeID, time.Now())
	return e.states.Save(ctx, snap)
}

// settle persists the execution's final reason, unless persisted is false
// (set by callers that already hit a persistence failure, to avoid
// compounding it with another doomed write), and returns result.
func (e *Executor) settle(ctx context.Context, tenantID, executionID string, wf *workflow.Workflow, state *workflow.HensuState, persisted bool, reason workflow.CheckpointReason, result ExecutionResult) ExecutionResult {
	if persisted {
		if err := e.persist(ctx, tenantID, executionID, wf, state, reason); err != nil {
			slog.Default().Error("failed to persist final checkpoint", "tenantId", tenantID, "executionId", executionID, "reason", reason, "error", err)
		}
	}
	return result
}

func (e *Executor) publish(ctx context.Context, nodeID string, kind emit.Kind, msg string, meta map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.Publish(emit.Event{ExecutionID: emit.ScopedExecutionID(ctx), Kind: kind, NodeID: nodeID, Msg: msg, Meta: meta})
}
