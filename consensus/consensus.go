// Package consensus implements C7, the Consensus Evaluator: derives a vote
// per branch outcome and aggregates votes under a strategy into Consensus or
// NoConsensus.
package consensus

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hensuio/hensu/agent"
	"github.com/hensuio/hensu/rubric"
	"github.com/hensuio/hensu/workflow"
)

// Vote is a single branch's derived position.
type Vote string

const (
	VoteApprove Vote = "Approve"
	VoteReject  Vote = "Reject"
	VoteAbstain Vote = "Abstain"
)

// BranchOutcome is one parallel branch's result, carrying its derived (or
// to-be-derived) vote, weight, and optional rubric id.
type BranchOutcome struct {
	BranchID string
	Output   string
	RubricID string
	Weight   float64
	Vote     Vote
}

// Result is the aggregated decision.
type Result string

const (
	Consensus   Result = "Consensus"
	NoConsensus Result = "NoConsensus"
)

// defaultApproveKeywords / defaultRejectKeywords back the keyword-heuristic
// vote classifier (spec §9 open question 1): a small, conservative,
// configurable set.
var (
	defaultApproveKeywords = []string{"approve", "lgtm", "accept"}
	defaultRejectKeywords  = []string{"reject", "decline", "unacceptable"}
)

// Options configures Evaluator.
type Options struct {
	ApproveKeywords []string
	RejectKeywords  []string
	// DefaultThreshold is used by MajorityVote/WeightedVote when the node's
	// ConsensusConfig.Threshold is zero.
	DefaultThreshold float64
}

// Evaluator is C7.
type Evaluator struct {
	rubrics  *rubric.Engine
	agents   *agent.Registry
	approve  []string
	reject   []string
	defaultT float64
}

// New builds an Evaluator. rubrics may be nil if no branch declares a
// rubricId.
func New(rubrics *rubric.Engine, agents *agent.Registry, opts Options) *Evaluator {
	approve := opts.ApproveKeywords
	if len(approve) == 0 {
		approve = defaultApproveKeywords
	}
	reject := opts.RejectKeywords
	if len(reject) == 0 {
		reject = defaultRejectKeywords
	}
	threshold := opts.DefaultThreshold
	if threshold == 0 {
		threshold = 0.5
	}
	return &Evaluator{rubrics: rubrics, agents: agents, approve: approve, reject: reject, defaultT: threshold}
}

// DeriveVote computes a branch's vote per spec §4.7: rubric mode when the
// branch declares a rubricId (falling through to the heuristic on rubric
// error), keyword heuristic otherwise.
func (e *Evaluator) DeriveVote(ctx context.Context, branch BranchOutcome, runContext map[string]interface{}) Vote {
	if branch.RubricID != "" && e.rubrics != nil {
		eval, err := e.rubrics.Evaluate(ctx, branch.RubricID, branch.Output, runContext)
		if err == nil {
			if eval.Passed {
				return VoteApprove
			}
			return VoteReject
		}
		// Rubric error: fall through to heuristic.
	}
	return e.heuristicVote(branch.Output)
}

func (e *Evaluator) heuristicVote(text string) Vote {
	lower := strings.ToLower(text)
	for _, kw := range e.approve {
		if strings.Contains(lower, kw) {
			return VoteApprove
		}
	}
	for _, kw := range e.reject {
		if strings.Contains(lower, kw) {
			return VoteReject
		}
	}
	return VoteAbstain
}

// Evaluate aggregates branch votes under strategy, deriving any vote not
// already set on the outcome.
func (e *Evaluator) Evaluate(ctx context.Context, cfg workflow.ConsensusConfig, branches []BranchOutcome, runContext map[string]interface{}) (Result, error) {
	resolved := make([]BranchOutcome, len(branches))
	for i, b := range branches {
		if b.Vote == "" {
			b.Vote = e.DeriveVote(ctx, b, runContext)
		}
		resolved[i] = b
	}

	switch cfg.Strategy {
	case workflow.ConsensusMajority:
		return e.majorityVote(resolved, cfg.Threshold), nil
	case workflow.ConsensusWeighted:
		return e.weightedVote(resolved, cfg.Threshold), nil
	case workflow.ConsensusUnanimous:
		return e.unanimous(resolved), nil
	case workflow.ConsensusJudge:
		return e.judgeDecides(ctx, cfg, resolved, runContext)
	default:
		return NoConsensus, fmt.Errorf("unknown consensus strategy: %s", cfg.Strategy)
	}
}

func (e *Evaluator) majorityVote(branches []BranchOutcome, threshold float64) Result {
	if threshold == 0 {
		threshold = e.defaultT
	}
	total := len(branches)
	if total == 0 {
		return NoConsensus
	}
	approvals := 0
	for _, b := range branches {
		if b.Vote == VoteApprove {
			approvals++
		}
	}
	needed := int(math.Ceil(float64(total) * threshold))
	if approvals >= needed {
		return Consensus
	}
	return NoConsensus
}

func (e *Evaluator) weightedVote(branches []BranchOutcome, threshold float64) Result {
	if threshold == 0 {
		threshold = e.defaultT
	}
	var approveWeight, decidedWeight float64
	for _, b := range branches {
		switch b.Vote {
		case VoteApprove:
			approveWeight += weightOf(b)
			decidedWeight += weightOf(b)
		case VoteReject:
			decidedWeight += weightOf(b)
		}
	}
	if decidedWeight == 0 {
		return NoConsensus
	}
	if approveWeight/decidedWeight > threshold {
		return Consensus
	}
	return NoConsensus
}

func weightOf(b BranchOutcome) float64 {
	if b.Weight == 0 {
		return 1
	}
	return b.Weight
}

func (e *Evaluator) unanimous(branches []BranchOutcome) Result {
	if len(branches) == 0 {
		return NoConsensus
	}
	for _, b := range branches {
		if b.Vote != VoteApprove {
			return NoConsensus
		}
	}
	return Consensus
}

func (e *Evaluator) judgeDecides(ctx context.Context, cfg workflow.ConsensusConfig, branches []BranchOutcome, runContext map[string]interface{}) (Result, error) {
	judge, ok := e.agents.Lookup(cfg.JudgeID)
	if !ok {
		return NoConsensus, fmt.Errorf("judge agent not found: %s", cfg.JudgeID)
	}
	var b strings.Builder
	b.WriteString("Review the following branch outputs and respond with JSON {\"decision\":\"approve\"|\"reject\"}.\n\n")
	for _, branch := range branches {
		fmt.Fprintf(&b, "Branch %s: %s\n", branch.BranchID, branch.Output)
	}
	resp, err := judge.Invoke(ctx, b.String(), runContext)
	if err != nil {
		return NoConsensus, fmt.Errorf("judge agent invocation failed: %w", err)
	}
	if e.heuristicVote(resp.Text) == VoteApprove {
		return Consensus, nil
	}
	return NoConsensus, nil
}
