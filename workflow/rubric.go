package workflow

// Criterion is one weighted component of a Rubric.
type Criterion struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	MinimumScore float64 `json:"minimumScore"`
}

// Rubric is a named scoring policy evaluated against a node's output by the
// Rubric Engine (C3).
type Rubric struct {
	ID            string      `json:"id"`
	PassThreshold float64     `json:"passThreshold"`
	Criteria      []Criterion `json:"criteria,omitempty"`
	// JudgeAgentID, if set, switches this rubric to LLM-judge mode: the named
	// agent is invoked to score the output instead of the Self-mode
	// extractor. Mirrors ConsensusConfig.JudgeID.
	JudgeAgentID string `json:"judgeAgentId,omitempty"`
}

// Evaluation is the result of evaluating a Rubric against an output.
type Evaluation struct {
	RubricID string
	Score    float64
	Passed   bool
}
