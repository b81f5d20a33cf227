package emit

import "time"

// Kind is the event-kind taxonomy published by the Event Broadcaster (C14).
type Kind string

const (
	KindExecutionStarted   Kind = "execution.started"
	KindExecutionCompleted Kind = "execution.completed"
	KindNodeStarted        Kind = "node.started"
	KindNodeCompleted      Kind = "node.completed"
	KindPlanCreated        Kind = "plan.created"
	KindPlanStepStarted    Kind = "plan.step_started"
	KindPlanStepCompleted  Kind = "plan.step_completed"
	KindPlanCompleted      Kind = "plan.completed"
	KindReviewRequested    Kind = "review.requested"
	KindReviewDecided      Kind = "review.decided"
	KindBacktrack          Kind = "backtrack"
)

// Event is an observability event emitted during workflow execution, carried
// forward from the teacher's emit.Event shape (RunID/Step/NodeID/Msg/Meta)
// with an added Kind discriminator and timestamp for the broadcaster's
// ordering guarantees.
type Event struct {
	ExecutionID string
	Kind        Kind
	Step        int
	NodeID      string
	Msg         string
	Meta        map[string]interface{}
	Timestamp   time.Time
}
