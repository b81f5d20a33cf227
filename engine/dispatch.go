// Package engine implements C9 (Node Dispatcher) and C10 (Workflow
// Executor): the per-node-type execution table and the graph traversal
// loop that drives an execution from its current node to a terminal state.
//
// Grounded on the teacher's Node[S].Run dispatch contract (graph/node.go)
// and the Run loop in graph/engine.go, generalized from a single
// user-supplied node function to the closed set of workflow.NodeType
// variants this package's sibling packages (rubric, action, plan, review,
// consensus, forkjoin) each implement one branch of.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hensuio/hensu/action"
	"github.com/hensuio/hensu/agent"
	"github.com/hensuio/hensu/consensus"
	"github.com/hensuio/hensu/emit"
	"github.com/hensuio/hensu/forkjoin"
	"github.com/hensuio/hensu/plan"
	"github.com/hensuio/hensu/review"
	"github.com/hensuio/hensu/rubric"
	"github.com/hensuio/hensu/workflow"
	"github.com/hensuio/hensu/workflow/params"
	"github.com/hensuio/hensu/workflow/template"
)

// NodeResult is C9's return contract.
type NodeResult struct {
	Outcome          workflow.StepOutcome
	Output           string
	Metadata         map[string]interface{}
	RubricEvaluation *workflow.Evaluation
}

// GenericHandler executes a GenericNode's executorType, receiving its
// static config and the run's current context.
type GenericHandler interface {
	Execute(ctx context.Context, cfg map[string]interface{}, runContext map[string]interface{}) (output string, err error)
}

// GenericHandlerFunc adapts a plain function to GenericHandler.
type GenericHandlerFunc func(ctx context.Context, cfg map[string]interface{}, runContext map[string]interface{}) (string, error)

// Execute implements GenericHandler.
func (f GenericHandlerFunc) Execute(ctx context.Context, cfg map[string]interface{}, runContext map[string]interface{}) (string, error) {
	return f(ctx, cfg, runContext)
}

// Dispatcher is C9.
type Dispatcher struct {
	agents    *agent.Registry
	rubrics   *rubric.Engine
	actions   *action.Dispatcher
	plans     *plan.Engine
	review    *review.Gate
	consensus *consensus.Evaluator
	forkjoin  *forkjoin.Coordinator
	events    *emit.Broadcaster
	metrics   *Metrics
	generics  map[string]GenericHandler

	// defaultJoinTimeout backs a Join node whose JoinNode.TimeoutMs is zero
	// (configuration's defaultJoinTimeout, spec §6).
	defaultJoinTimeout time.Duration
}

// New builds a Dispatcher from its sibling-package collaborators. metrics
// may be nil, in which case instrumentation is skipped.
func New(agents *agent.Registry, rubrics *rubric.Engine, actions *action.Dispatcher, plans *plan.Engine, reviewGate *review.Gate, cons *consensus.Evaluator, fj *forkjoin.Coordinator, events *emit.Broadcaster, metrics *Metrics, defaultJoinTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		agents:             agents,
		rubrics:            rubrics,
		actions:            actions,
		plans:              plans,
		review:             reviewGate,
		consensus:          cons,
		forkjoin:           fj,
		events:             events,
		metrics:            metrics,
		generics:           make(map[string]GenericHandler),
		defaultJoinTimeout: defaultJoinTimeout,
	}
}

// RegisterGenericHandler adds an executorType implementation, looked up by
// GenericNode.ExecutorType.
func (d *Dispatcher) RegisterGenericHandler(executorType string, h GenericHandler) {
	d.generics[executorType] = h
}

// Execute dispatches node per its Type, per spec §4.9.
func (d *Dispatcher) Execute(ctx context.Context, executionID, nodeID string, node *workflow.Node, state *workflow.HensuState, runner forkjoin.RunFunc) (NodeResult, error) {
	switch node.Type {
	case workflow.NodeStandard:
		return d.executeStandard(ctx, executionID, nodeID, node.Standard, state)
	case workflow.NodeParallel:
		return d.executeParallel(ctx, executionID, nodeID, node.Parallel, state, runner)
	case workflow.NodeFork:
		return d.executeFork(ctx, nodeID, node.Fork, state, runner)
	case workflow.NodeJoin:
		return d.executeJoin(ctx, nodeID, node.Join, state)
	case workflow.NodeGeneric:
		return d.executeGeneric(ctx, node.Generic, state)
	case workflow.NodeAction:
		return d.executeAction(ctx, node.Action, state)
	case workflow.NodeEnd:
		return NodeResult{Outcome: workflow.OutcomeSuccess}, nil
	default:
		return NodeResult{}, &ExecutionError{Code: CodeUnknownNodeType, Message: fmt.Sprintf("node %s has unknown type %s", nodeID, node.Type)}
	}
}

func (d *Dispatcher) executeStandard(ctx context.Context, executionID, nodeID string, n *workflow.StandardNode, state *workflow.HensuState) (NodeResult, error) {
	prompt := template.Resolve(n.Prompt, state.Context)

	var output string
	var stepResults []workflow.StepResult
	if n.Plan != nil {
		results, outcome, err := d.plans.Run(ctx, executionID, nodeID, n.Plan, state.Context)
		stepResults = results
		if err != nil {
			return NodeResult{Outcome: workflow.OutcomeFailure}, nil
		}
		if outcome == workflow.OutcomeFailure {
			return NodeResult{Outcome: workflow.OutcomeFailure, Metadata: map[string]interface{}{"steps": stepResults}}, nil
		}
		if len(results) > 0 {
			last := results[len(results)-1].Output
			if text, ok := last["text"].(string); ok {
				output = text
			} else {
				output = template.Stringify(last)
			}
		}
	} else {
		a, ok := d.agents.Lookup(n.AgentID)
		if !ok {
			return NodeResult{}, &ExecutionError{Code: CodeAgentNotFound, Message: fmt.Sprintf("node %s: agent not found: %s", nodeID, n.AgentID)}
		}
		resp, err := a.Invoke(ctx, prompt, state.Context)
		if err != nil {
			return NodeResult{Outcome: workflow.OutcomeFailure, Output: err.Error()}, nil
		}
		output = resp.Text
	}

	state.Context[nodeID] = output
	if len(n.OutputParams) > 0 {
		params.ApplyTo(state.Context, output, n.OutputParams)
	}

	var evalPtr *workflow.Evaluation
	outcome := workflow.OutcomeSuccess
	if n.RubricID != "" {
		eval, err := d.rubrics.Evaluate(ctx, n.RubricID, output, state.Context)
		// Rubric-evaluation errors are non-fatal (spec §4.10): they surface as
		// a Failure outcome rather than an IllegalState. Evaluate still
		// returns a usable Self-mode fallback eval when the failure was a
		// judge-invocation error (eval.RubricID non-empty); a not-found
		// rubric yields a zero eval, which the Executor does not attach to
		// state.LastRubric.
		if eval.RubricID != "" {
			evalPtr = &eval
		}
		if err != nil || !eval.Passed {
			outcome = workflow.OutcomeFailure
		}
	}

	result := NodeResult{Outcome: outcome, Output: output, RubricEvaluation: evalPtr}
	decision := d.applyReview(ctx, n.Review, nodeID, state, result)
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["reviewDecision"] = decision
	return result, nil
}

// applyReview runs C6 for a Standard node per spec §4.9. It only requests the
// reviewer's decision and surfaces it via NodeResult.Metadata["reviewDecision"];
// interpreting Approve/Reject/Backtrack — including overriding the node's
// outcome or repositioning CurrentNodeID — is the Executor's (C10)
// responsibility.
func (d *Dispatcher) applyReview(ctx context.Context, cfg *workflow.ReviewConfig, nodeID string, state *workflow.HensuState, result NodeResult) review.Decision {
	decision := d.review.Decide(ctx, cfg, review.Request{NodeID: nodeID, State: state, Outcome: result.Outcome, Output: result.Output})
	d.publish(ctx, emit.KindReviewDecided, nodeID, "review_decided", map[string]interface{}{"kind": decision.Kind})
	return decision
}

func (d *Dispatcher) executeParallel(ctx context.Context, executionID, nodeID string, n *workflow.ParallelNode, state *workflow.HensuState, runner forkjoin.RunFunc) (NodeResult, error) {
	outcomes := make([]consensus.BranchOutcome, len(n.Branches))
	for i, branch := range n.Branches {
		branchState := state.Clone()
		prompt := template.Resolve(branch.Prompt, state.Context)
		a, ok := d.agents.Lookup(branch.AgentID)
		var output string
		if ok {
			resp, err := a.Invoke(ctx, prompt, branchState.Context)
			if err == nil {
				output = resp.Text
			}
		}
		weight := 1.0
		if branch.Weight != nil {
			weight = *branch.Weight
		}
		outcomes[i] = consensus.BranchOutcome{BranchID: branch.BranchID, Output: output, RubricID: branch.RubricID, Weight: weight}
	}

	result, err := d.consensus.Evaluate(ctx, n.Consensus, outcomes, state.Context)
	if err != nil {
		return NodeResult{Outcome: workflow.OutcomeFailure}, nil
	}
	outcome := workflow.OutcomeFailure
	if result == consensus.Consensus {
		outcome = workflow.OutcomeSuccess
	}
	return NodeResult{Outcome: outcome, Metadata: map[string]interface{}{"branches": outcomes}}, nil
}

func (d *Dispatcher) executeFork(ctx context.Context, nodeID string, n *workflow.ForkNode, state *workflow.HensuState, runner forkjoin.RunFunc) (NodeResult, error) {
	outcome, err := d.forkjoin.Fork(ctx, nodeID, n, state, runner)
	if err != nil {
		return NodeResult{Outcome: workflow.OutcomeFailure}, nil
	}
	return NodeResult{Outcome: outcome}, nil
}

func (d *Dispatcher) executeJoin(ctx context.Context, nodeID string, n *workflow.JoinNode, state *workflow.HensuState) (NodeResult, error) {
	start := time.Now()
	merged, outcome, err := d.forkjoin.Join(ctx, n, d.defaultJoinTimeout)
	if err != nil {
		failLabel := "timeout"
		if errors.Is(err, forkjoin.ErrJoinBranchFailure) {
			failLabel = "branch_failure"
		}
		d.metrics.RecordJoinWait(nodeID, failLabel, time.Since(start))
		return NodeResult{Outcome: workflow.OutcomeFailure, Output: err.Error()}, nil
	}
	joinOutcome := "success"
	if outcome == workflow.OutcomeFailure {
		joinOutcome = "branch_failure"
	}
	d.metrics.RecordJoinWait(nodeID, joinOutcome, time.Since(start))
	if n.OutputField != "" {
		state.Context[n.OutputField] = merged
	}
	return NodeResult{Outcome: outcome, Metadata: map[string]interface{}{n.OutputField: merged}}, nil
}

func (d *Dispatcher) executeGeneric(ctx context.Context, n *workflow.GenericNode, state *workflow.HensuState) (NodeResult, error) {
	h, ok := d.generics[n.ExecutorType]
	if !ok {
		return NodeResult{}, &ExecutionError{Code: CodeUnknownNodeType, Message: fmt.Sprintf("no handler registered for executorType %s", n.ExecutorType)}
	}
	output, err := h.Execute(ctx, n.Config, state.Context)
	if err != nil {
		return NodeResult{Outcome: workflow.OutcomeFailure, Output: err.Error()}, nil
	}

	var evalPtr *workflow.Evaluation
	if n.RubricID != "" {
		eval, err := d.rubrics.Evaluate(ctx, n.RubricID, output, state.Context)
		if eval.RubricID != "" {
			evalPtr = &eval
		}
		if err != nil || !eval.Passed {
			return NodeResult{Outcome: workflow.OutcomeFailure, Output: output, RubricEvaluation: evalPtr}, nil
		}
	}
	return NodeResult{Outcome: workflow.OutcomeSuccess, Output: output, RubricEvaluation: evalPtr}, nil
}

func (d *Dispatcher) executeAction(ctx context.Context, n *workflow.ActionNode, state *workflow.HensuState) (NodeResult, error) {
	ok, results := d.actions.DispatchAll(ctx, n.Actions, state.Context)
	outcome := workflow.OutcomeSuccess
	if !ok {
		outcome = workflow.OutcomeFailure
	}
	return NodeResult{Outcome: outcome, Metadata: map[string]interface{}{"results": results}}, nil
}

func (d *Dispatcher) publish(ctx context.Context, kind emit.Kind, nodeID, msg string, meta map[string]interface{}) {
	if d.events == nil {
		return
	}
	executionID := emit.ScopedExecutionID(ctx)
	d.events.Publish(emit.Event{ExecutionID: executionID, Kind: kind, NodeID: nodeID, Msg: msg, Meta: meta})
}
