package workflow

import "time"

// Context is the string-keyed value mapping an execution accumulates as it
// advances. Keys beginning with "_" are internal and filtered out of
// execution.completed output events (P7).
type Context map[string]interface{}

// Clone returns a shallow copy, used to give parallel/fork branches their own
// copy-on-fork context (they never mutate the parent's map).
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into a clone of c, overwriting existing
// keys, and returns the clone. c is left untouched.
func (c Context) Merge(other Context) Context {
	out := c.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Filtered returns a copy with every key beginning with "_" removed (P7).
func (c Context) Filtered() Context {
	out := make(Context, len(c))
	for k, v := range c {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}

// StepOutcome is the pass/fail result recorded for one node execution.
type StepOutcome string

const (
	OutcomeSuccess StepOutcome = "Success"
	OutcomeFailure StepOutcome = "Failure"
)

// ExecutionStep is one append-only entry in HensuState.History: a node
// execution result, recorded with its timestamp.
type ExecutionStep struct {
	NodeID    string      `json:"nodeId"`
	Outcome   StepOutcome `json:"outcome"`
	Output    string      `json:"output,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BacktrackEvent is an append-only history entry recording a backtrack: the
// current-node pointer was reassigned without rewriting any prior step.
type BacktrackEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is either an ExecutionStep or a BacktrackEvent, distinguished
// by which pointer is non-nil.
type HistoryEntry struct {
	Step      *ExecutionStep  `json:"step,omitempty"`
	Backtrack *BacktrackEvent `json:"backtrack,omitempty"`
}

// LastRubric carries the most recent rubric evaluation. It is cleared
// whenever the current node advances (P8); a nil pointer means "none".
type LastRubric struct {
	NodeID     string     `json:"nodeId"`
	Evaluation Evaluation `json:"evaluation"`
}

// HensuState is the per-execution mutable snapshot: owned exclusively by the
// single worker currently advancing the execution it belongs to.
type HensuState struct {
	Context         Context         `json:"context"`
	History         []HistoryEntry  `json:"history"`
	CurrentNodeID   string          `json:"currentNodeId"` // empty when terminal
	RetryCounts     map[string]int  `json:"retryCounts"`
	BacktrackCounts map[string]int  `json:"backtrackCounts"`
	LastRubric      *LastRubric     `json:"lastRubric,omitempty"`
}

// NewState builds a fresh HensuState positioned at startNode with the given
// initial context.
func NewState(startNode string, initial Context) *HensuState {
	return &HensuState{
		Context:         initial.Clone(),
		History:         nil,
		CurrentNodeID:   startNode,
		RetryCounts:     make(map[string]int),
		BacktrackCounts: make(map[string]int),
	}
}

// AppendStep appends an ExecutionStep to history. History is append-only
// (P5): this never rewrites a prior entry.
func (s *HensuState) AppendStep(step ExecutionStep) {
	s.History = append(s.History, HistoryEntry{Step: &step})
}

// AppendBacktrack appends a BacktrackEvent to history and repositions
// CurrentNodeID to the target, per §9's backtrack semantics. It does not
// reset the source node's retry counter; callers reset the target's
// backtrack counter separately (see engine package).
func (s *HensuState) AppendBacktrack(ev BacktrackEvent) {
	s.History = append(s.History, HistoryEntry{Backtrack: &ev})
	s.CurrentNodeID = ev.To
}

// ClearLastRubric clears the cached rubric evaluation. Must be called
// whenever CurrentNodeID changes to a new node (P8).
func (s *HensuState) ClearLastRubric() {
	s.LastRubric = nil
}

// Clone returns a deep-enough copy for copy-on-fork branch isolation:
// context is cloned, counters are cloned, history is copied by reference
// (history entries are immutable once appended).
func (s *HensuState) Clone() *HensuState {
	rc := make(map[string]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		rc[k] = v
	}
	bc := make(map[string]int, len(s.BacktrackCounts))
	for k, v := range s.BacktrackCounts {
		bc[k] = v
	}
	hist := make([]HistoryEntry, len(s.History))
	copy(hist, s.History)
	var lr *LastRubric
	if s.LastRubric != nil {
		v := *s.LastRubric
		lr = &v
	}
	return &HensuState{
		Context:         s.Context.Clone(),
		History:         hist,
		CurrentNodeID:   s.CurrentNodeID,
		RetryCounts:     rc,
		BacktrackCounts: bc,
		LastRubric:      lr,
	}
}

// CheckpointReason is the reason a HensuSnapshot was persisted.
type CheckpointReason string

const (
	ReasonCheckpoint CheckpointReason = "checkpoint"
	ReasonPaused     CheckpointReason = "paused"
	ReasonCompleted  CheckpointReason = "completed"
	ReasonFailed     CheckpointReason = "failed"
	ReasonRejected   CheckpointReason = "rejected"
	ReasonCancelled  CheckpointReason = "cancelled"
)

// IsTerminal reports whether reason leaves no further node to execute.
func (r CheckpointReason) IsTerminal() bool {
	switch r {
	case ReasonCompleted, ReasonFailed, ReasonRejected, ReasonCancelled:
		return true
	default:
		return false
	}
}

// HensuSnapshot is the persisted unit of record for one execution: state plus
// positional and lease metadata.
//
// Invariant (P1): CurrentNodeID is empty iff Reason is terminal. Lease fields
// are both set iff Reason == checkpoint; both nil otherwise.
type HensuSnapshot struct {
	TenantID        string            `json:"tenantId"`
	ExecutionID     string            `json:"executionId"`
	WorkflowID      string            `json:"workflowId"`
	State           *HensuState       `json:"state"`
	CurrentNodeID   string            `json:"currentNodeId"`
	CheckpointReason CheckpointReason `json:"checkpointReason"`
	CheckpointTime  time.Time         `json:"checkpointTime"`
	ServerNodeID    *string           `json:"serverNodeId,omitempty"`
	LastHeartbeatAt *time.Time        `json:"lastHeartbeatAt,omitempty"`
}

// IsOrphaned reports whether this snapshot is a stale lease: owned, but its
// heartbeat is older than staleThreshold.
func (s *HensuSnapshot) IsOrphaned(now time.Time, staleThreshold time.Duration) bool {
	if s.CheckpointReason != ReasonCheckpoint {
		return false
	}
	if s.LastHeartbeatAt == nil {
		return false
	}
	return s.LastHeartbeatAt.Before(now.Add(-staleThreshold))
}

// ApplyLease sets or clears the lease fields per the checkpoint-reason
// invariant: checkpoint rows carry owner+heartbeat, every other reason clears
// both.
func (s *HensuSnapshot) ApplyLease(serverNodeID string, now time.Time) {
	if s.CheckpointReason == ReasonCheckpoint {
		id := serverNodeID
		t := now
		s.ServerNodeID = &id
		s.LastHeartbeatAt = &t
		return
	}
	s.ServerNodeID = nil
	s.LastHeartbeatAt = nil
}
