package workflow

import "time"

// PlanMode discriminates a Static fixed step list from a Dynamic goal-driven
// plan produced at runtime by a Planner.
type PlanMode string

const (
	PlanStatic  PlanMode = "static"
	PlanDynamic PlanMode = "dynamic"
)

// Step is one unit of work inside a Plan: either a tool invocation (dispatched
// via the Action Dispatcher) or an agent invocation, chosen by which of Tool
// or AgentID is set.
type Step struct {
	Tool    string                 `json:"tool,omitempty"`
	AgentID string                 `json:"agentId,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
}

// StepStatus is the outcome of executing one Step.
type StepStatus string

const (
	StepSuccess StepStatus = "Success"
	StepFailure StepStatus = "Failure"
	StepSkipped StepStatus = "Skipped"
)

// StepResult records the outcome of one executed Step.
type StepResult struct {
	Step      Step                   `json:"step"`
	Status    StepStatus             `json:"status"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	StartedAt time.Time              `json:"startedAt"`
	EndedAt   time.Time              `json:"endedAt"`
}

// Constraints bounds a Dynamic plan's planner and execution.
type Constraints struct {
	MaxSteps       int           `json:"maxSteps,omitempty"`
	MaxReplans     int           `json:"maxReplans,omitempty"`
	MaxDuration    time.Duration `json:"maxDuration,omitempty"`
	MaxTokenBudget int           `json:"maxTokenBudget,omitempty"`
}

// Plan is either a fixed, ordered Step list (Static) or a goal description
// resolved into steps at runtime by a Planner (Dynamic).
type Plan struct {
	Mode        PlanMode    `json:"mode"`
	Steps       []Step      `json:"steps,omitempty"`
	Goal        string      `json:"goal,omitempty"`
	Constraints Constraints `json:"constraints,omitempty"`
	AllowReplan bool        `json:"allowReplan,omitempty"`
}
