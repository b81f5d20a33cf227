package workflow

import "encoding/json"

// NodeType discriminates the closed sum of node shapes on the wire.
type NodeType string

const (
	NodeStandard NodeType = "STANDARD"
	NodeParallel NodeType = "PARALLEL"
	NodeFork     NodeType = "FORK"
	NodeJoin     NodeType = "JOIN"
	NodeGeneric  NodeType = "GENERIC"
	NodeAction   NodeType = "ACTION"
	NodeEnd      NodeType = "END"
)

// EndStatus is the terminal status carried by an End node.
type EndStatus string

const (
	EndSuccess   EndStatus = "SUCCESS"
	EndFailure   EndStatus = "FAILURE"
	EndCancelled EndStatus = "CANCELLED"
)

// MergeStrategy is the join-node output merge policy.
type MergeStrategy string

const (
	MergeCollectAll    MergeStrategy = "CollectAll"
	MergeFirstSuccess  MergeStrategy = "FirstSuccess"
	MergeConcatenate   MergeStrategy = "Concatenate"
)

// ConsensusStrategy is the parallel-node vote aggregation policy.
type ConsensusStrategy string

const (
	ConsensusMajority  ConsensusStrategy = "MajorityVote"
	ConsensusWeighted  ConsensusStrategy = "WeightedVote"
	ConsensusUnanimous ConsensusStrategy = "Unanimous"
	ConsensusJudge     ConsensusStrategy = "JudgeDecides"
)

// ReviewMode controls when the Review Gate (C6) invokes an external reviewer.
type ReviewMode string

const (
	ReviewDisabled ReviewMode = "Disabled"
	ReviewOptional ReviewMode = "Optional"
	ReviewRequired ReviewMode = "Required"
)

// ReviewConfig configures C6 for a Standard node.
type ReviewConfig struct {
	Mode ReviewMode `json:"mode"`
}

// Branch is one parallel-node sibling.
type Branch struct {
	BranchID string   `json:"branchId"`
	AgentID  string   `json:"agentId"`
	Prompt   string   `json:"prompt"`
	RubricID string   `json:"rubricId,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
}

// ConsensusConfig configures C7 for a parallel node.
type ConsensusConfig struct {
	Strategy  ConsensusStrategy `json:"strategy"`
	JudgeID   string            `json:"judgeAgentId,omitempty"`
	Threshold float64           `json:"threshold,omitempty"`
}

// StandardNode is a single agent invocation with optional rubric gating,
// output extraction, review, and a per-node plan.
type StandardNode struct {
	AgentID      string        `json:"agentId"`
	Prompt       string        `json:"prompt"`
	RubricID     string        `json:"rubricId,omitempty"`
	OutputParams []string      `json:"outputParams,omitempty"`
	Review       *ReviewConfig `json:"reviewConfig,omitempty"`
	Plan         *Plan         `json:"plan,omitempty"`
}

// ParallelNode fans out to concurrent branches and consensus-gates the result.
type ParallelNode struct {
	Branches  []Branch        `json:"branches"`
	Consensus ConsensusConfig `json:"consensus"`
}

// ForkNode spawns concurrent sub-traversals.
type ForkNode struct {
	Targets []string `json:"targets"`
	WaitAll bool     `json:"waitAll"`
}

// JoinNode awaits a named fork and merges its branch outputs.
type JoinNode struct {
	Await          []string      `json:"await"`
	MergeStrategy  MergeStrategy `json:"mergeStrategy"`
	OutputField    string        `json:"outputField"`
	TimeoutMs      int64         `json:"timeoutMs"`
	FailOnAnyError bool          `json:"failOnAnyError"`
}

// GenericNode delegates to a registered GenericHandler.
type GenericNode struct {
	ExecutorType string                 `json:"executorType"`
	Config       map[string]interface{} `json:"config,omitempty"`
	RubricID     string                 `json:"rubricId,omitempty"`
}

// ActionNode dispatches a sequence of actions via C4.
type ActionNode struct {
	Actions []Action `json:"actions"`
}

// EndNode terminates a traversal.
type EndNode struct {
	Status EndStatus `json:"status"`
}

// Node is the tagged-variant union of all node shapes, discriminated by
// Type on the wire. Exactly one of the variant pointer fields (Standard,
// Parallel, Fork, Join, Generic, Action, End) is non-nil for a given Type.
type Node struct {
	Type        NodeType     `json:"nodeType"`
	Transitions []Transition `json:"transitions,omitempty"`

	Standard *StandardNode `json:"-"`
	Parallel *ParallelNode `json:"-"`
	Fork     *ForkNode     `json:"-"`
	Join     *JoinNode     `json:"-"`
	Generic  *GenericNode  `json:"-"`
	Action   *ActionNode   `json:"-"`
	End      *EndNode      `json:"-"`
}

// nodeWire is the flattened on-the-wire shape: every variant's fields live
// alongside each other and the discriminator picks which subset is read.
type nodeWire struct {
	Type        NodeType          `json:"nodeType"`
	Transitions []json.RawMessage `json:"transitions,omitempty"`

	// Standard
	AgentID      string        `json:"agentId,omitempty"`
	Prompt       string        `json:"prompt,omitempty"`
	RubricID     string        `json:"rubricId,omitempty"`
	OutputParams []string      `json:"outputParams,omitempty"`
	ReviewConfig *ReviewConfig `json:"reviewConfig,omitempty"`
	Plan         *Plan         `json:"plan,omitempty"`

	// Parallel
	Branches  []Branch         `json:"branches,omitempty"`
	Consensus *ConsensusConfig `json:"consensus,omitempty"`

	// Fork
	Targets []string `json:"targets,omitempty"`
	WaitAll bool     `json:"waitAll,omitempty"`

	// Join
	Await          []string      `json:"await,omitempty"`
	MergeStrategy  MergeStrategy `json:"mergeStrategy,omitempty"`
	OutputField    string        `json:"outputField,omitempty"`
	TimeoutMs      int64         `json:"timeoutMs,omitempty"`
	FailOnAnyError bool          `json:"failOnAnyError,omitempty"`

	// Generic
	ExecutorType string                 `json:"executorType,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`

	// Action
	Actions []json.RawMessage `json:"actions,omitempty"`

	// End
	Status EndStatus `json:"status,omitempty"`
}

// MarshalJSON flattens the active variant into the shared wire shape.
func (n Node) MarshalJSON() ([]byte, error) {
	w := nodeWire{Type: n.Type}
	for _, t := range n.Transitions {
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		w.Transitions = append(w.Transitions, raw)
	}
	switch n.Type {
	case NodeStandard:
		if n.Standard != nil {
			w.AgentID = n.Standard.AgentID
			w.Prompt = n.Standard.Prompt
			w.RubricID = n.Standard.RubricID
			w.OutputParams = n.Standard.OutputParams
			w.ReviewConfig = n.Standard.Review
			w.Plan = n.Standard.Plan
		}
	case NodeParallel:
		if n.Parallel != nil {
			w.Branches = n.Parallel.Branches
			w.Consensus = &n.Parallel.Consensus
		}
	case NodeFork:
		if n.Fork != nil {
			w.Targets = n.Fork.Targets
			w.WaitAll = n.Fork.WaitAll
		}
	case NodeJoin:
		if n.Join != nil {
			w.Await = n.Join.Await
			w.MergeStrategy = n.Join.MergeStrategy
			w.OutputField = n.Join.OutputField
			w.TimeoutMs = n.Join.TimeoutMs
			w.FailOnAnyError = n.Join.FailOnAnyError
		}
	case NodeGeneric:
		if n.Generic != nil {
			w.ExecutorType = n.Generic.ExecutorType
			w.Config = n.Generic.Config
			w.RubricID = n.Generic.RubricID
		}
	case NodeAction:
		if n.Action != nil {
			for _, a := range n.Action.Actions {
				raw, err := json.Marshal(a)
				if err != nil {
					return nil, err
				}
				w.Actions = append(w.Actions, raw)
			}
		}
	case NodeEnd:
		if n.End != nil {
			w.Status = n.End.Status
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON dispatches on the nodeType discriminator to populate exactly
// one variant.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	n.Type = w.Type
	n.Transitions = nil
	for _, raw := range w.Transitions {
		var t Transition
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		n.Transitions = append(n.Transitions, t)
	}
	switch w.Type {
	case NodeStandard:
		n.Standard = &StandardNode{
			AgentID:      w.AgentID,
			Prompt:       w.Prompt,
			RubricID:     w.RubricID,
			OutputParams: w.OutputParams,
			Review:       w.ReviewConfig,
			Plan:         w.Plan,
		}
	case NodeParallel:
		p := &ParallelNode{Branches: w.Branches}
		if w.Consensus != nil {
			p.Consensus = *w.Consensus
		}
		n.Parallel = p
	case NodeFork:
		n.Fork = &ForkNode{Targets: w.Targets, WaitAll: w.WaitAll}
	case NodeJoin:
		n.Join = &JoinNode{
			Await:          w.Await,
			MergeStrategy:  w.MergeStrategy,
			OutputField:    w.OutputField,
			TimeoutMs:      w.TimeoutMs,
			FailOnAnyError: w.FailOnAnyError,
		}
	case NodeGeneric:
		n.Generic = &GenericNode{ExecutorType: w.ExecutorType, Config: w.Config, RubricID: w.RubricID}
	case NodeAction:
		a := &ActionNode{}
		for _, raw := range w.Actions {
			var act Action
			if err := json.Unmarshal(raw, &act); err != nil {
				return err
			}
			a.Actions = append(a.Actions, act)
		}
		n.Action = a
	case NodeEnd:
		n.End = &EndNode{Status: w.Status}
	default:
		return &ValidationError{Code: "UNKNOWN_NODE_TYPE", Message: "unknown nodeType: " + string(w.Type)}
	}
	return nil
}
