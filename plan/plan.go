// Package plan implements C5, the Plan Engine: executes ordered step
// sequences, static or LLM-generated, within a node.
package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/hensuio/hensu/action"
	"github.com/hensuio/hensu/agent"
	"github.com/hensuio/hensu/emit"
	"github.com/hensuio/hensu/workflow"
	"github.com/hensuio/hensu/workflow/template"
)

// Planner is the consumed interface used only in dynamic planning mode: it
// produces a step list from a goal and constraints.
type Planner interface {
	Plan(ctx context.Context, goal string, constraints workflow.Constraints, tools []string) ([]workflow.Step, error)
}

// Engine is C5.
type Engine struct {
	actions *action.Dispatcher
	agents  *agent.Registry
	planner Planner
	events  *emit.Broadcaster
}

// New builds a Plan Engine.
func New(actions *action.Dispatcher, agents *agent.Registry, planner Planner, events *emit.Broadcaster) *Engine {
	return &Engine{actions: actions, agents: agents, planner: planner, events: events}
}

// Run executes p against runContext, returning the executed steps in order
// and the overall outcome.
func (e *Engine) Run(ctx context.Context, executionID, nodeID string, p *workflow.Plan, runContext map[string]interface{}) ([]workflow.StepResult, workflow.StepOutcome, error) {
	e.publish(executionID, emit.KindPlanCreated, nodeID, "plan_created", nil)

	steps := p.Steps
	replans := 0
	deadline := time.Time{}
	if p.Constraints.MaxDuration > 0 {
		deadline = time.Now().Add(p.Constraints.MaxDuration)
	}

	if p.Mode == workflow.PlanDynamic {
		if e.planner == nil {
			return nil, workflow.OutcomeFailure, fmt.Errorf("dynamic plan requires a Planner")
		}
		generated, err := e.planner.Plan(ctx, p.Goal, p.Constraints, nil)
		if err != nil {
			return nil, workflow.OutcomeFailure, fmt.Errorf("planner failed: %w", err)
		}
		steps = generated
	}

	var results []workflow.StepResult
	for i := 0; i < len(steps); i++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		step := steps[i]
		result := e.runStep(ctx, executionID, nodeID, step, runContext)
		results = append(results, result)

		if result.Status == workflow.StepFailure {
			if p.Mode == workflow.PlanDynamic && p.AllowReplan && replans < p.Constraints.MaxReplans {
				replans++
				replanned, err := e.planner.Plan(ctx, p.Goal, p.Constraints, nil)
				if err == nil {
					steps = append(steps[:i+1], replanned...)
					continue
				}
			}
			e.publish(executionID, emit.KindPlanCompleted, nodeID, "plan_completed", map[string]interface{}{"outcome": "Failure"})
			return results, workflow.OutcomeFailure, nil
		}
	}

	e.publish(executionID, emit.KindPlanCompleted, nodeID, "plan_completed", map[string]interface{}{"outcome": "Success"})
	return results, workflow.OutcomeSuccess, nil
}

func (e *Engine) runStep(ctx context.Context, executionID, nodeID string, step workflow.Step, runContext map[string]interface{}) workflow.StepResult {
	started := time.Now()
	e.publish(executionID, emit.KindPlanStepStarted, nodeID, "step_started", map[string]interface{}{"tool": step.Tool, "agentId": step.AgentID})

	args := template.ResolveMap(step.Args, runContext)
	result := workflow.StepResult{Step: step, StartedAt: started}

	switch {
	case step.Tool != "":
		res := e.actions.Dispatch(ctx, workflow.NewSendAction(step.Tool, args), runContext)
		if res.Success {
			result.Status = workflow.StepSuccess
			result.Output = res.Output
		} else {
			result.Status = workflow.StepFailure
			result.Error = res.Message
		}
	case step.AgentID != "":
		a, ok := e.agents.Lookup(step.AgentID)
		if !ok {
			result.Status = workflow.StepFailure
			result.Error = fmt.Sprintf("agent not found: %s", step.AgentID)
			break
		}
		prompt := template.Stringify(args)
		resp, err := a.Invoke(ctx, prompt, runContext)
		if err != nil {
			result.Status = workflow.StepFailure
			result.Error = err.Error()
			break
		}
		result.Status = workflow.StepSuccess
		result.Output = map[string]interface{}{"text": resp.Text}
	default:
		result.Status = workflow.StepSkipped
	}

	result.EndedAt = time.Now()
	e.publish(executionID, emit.KindPlanStepCompleted, nodeID, "step_completed", map[string]interface{}{"status": result.Status})
	return result
}

func (e *Engine) publish(executionID string, kind emit.Kind, nodeID, msg string, meta map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.Publish(emit.Event{ExecutionID: executionID, Kind: kind, NodeID: nodeID, Msg: msg, Meta: meta})
}
