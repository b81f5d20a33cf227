package consensus

import (
	"context"
	"testing"

	"github.com/hensuio/hensu/agent"
	"github.com/hensuio/hensu/rubric"
	"github.com/hensuio/hensu/workflow"
)

func TestDeriveVoteHeuristic(t *testing.T) {
	e := New(nil, agent.NewRegistry(), Options{})

	tests := []struct {
		text string
		want Vote
	}{
		{"LGTM, ship it", VoteApprove},
		{"I reject this output", VoteReject},
		{"no opinion either way", VoteAbstain},
	}
	for _, tt := range tests {
		got := e.DeriveVote(context.Background(), BranchOutcome{Output: tt.text}, map[string]interface{}{})
		if got != tt.want {
			t.Errorf("DeriveVote(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDeriveVoteRubricMode(t *testing.T) {
	rubrics := rubric.New(rubric.MapRepository{"r1": workflow.Rubric{ID: "r1", PassThreshold: 50}}, agent.NewRegistry(), rubric.Options{})
	e := New(rubrics, agent.NewRegistry(), Options{})

	got := e.DeriveVote(context.Background(), BranchOutcome{RubricID: "r1", Output: `{"score": 90}`}, map[string]interface{}{})
	if got != VoteApprove {
		t.Errorf("DeriveVote() = %v, want Approve", got)
	}

	got = e.DeriveVote(context.Background(), BranchOutcome{RubricID: "r1", Output: `{"score": 10}`}, map[string]interface{}{})
	if got != VoteReject {
		t.Errorf("DeriveVote() = %v, want Reject", got)
	}
}

func TestDeriveVoteFallsBackOnRubricError(t *testing.T) {
	rubrics := rubric.New(rubric.MapRepository{}, agent.NewRegistry(), rubric.Options{})
	e := New(rubrics, agent.NewRegistry(), Options{})

	got := e.DeriveVote(context.Background(), BranchOutcome{RubricID: "missing", Output: "lgtm"}, map[string]interface{}{})
	if got != VoteApprove {
		t.Errorf("DeriveVote() with unknown rubric = %v, want Approve via heuristic fallback", got)
	}
}

func TestMajorityVote(t *testing.T) {
	e := New(nil, agent.NewRegistry(), Options{})
	branches := []BranchOutcome{
		{Vote: VoteApprove}, {Vote: VoteApprove}, {Vote: VoteReject},
	}
	result, err := e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: workflow.ConsensusMajority, Threshold: 0.5}, branches, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result != Consensus {
		t.Errorf("Evaluate() = %v, want Consensus (2/3 >= 0.5)", result)
	}
}

func TestMajorityVoteNoConsensus(t *testing.T) {
	e := New(nil, agent.NewRegistry(), Options{})
	branches := []BranchOutcome{
		{Vote: VoteApprove}, {Vote: VoteReject}, {Vote: VoteReject},
	}
	result, _ := e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: workflow.ConsensusMajority, Threshold: 0.75}, branches, map[string]interface{}{})
	if result != NoConsensus {
		t.Errorf("Evaluate() = %v, want NoConsensus (1/3 < 0.75)", result)
	}
}

func TestWeightedVote(t *testing.T) {
	e := New(nil, agent.NewRegistry(), Options{})
	branches := []BranchOutcome{
		{Vote: VoteApprove, Weight: 3},
		{Vote: VoteReject, Weight: 1},
	}
	result, err := e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: workflow.ConsensusWeighted, Threshold: 0.5}, branches, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result != Consensus {
		t.Errorf("Evaluate() = %v, want Consensus (weighted 3/4 > 0.5)", result)
	}
}

func TestUnanimous(t *testing.T) {
	e := New(nil, agent.NewRegistry(), Options{})
	unanimous := []BranchOutcome{{Vote: VoteApprove}, {Vote: VoteApprove}}
	result, _ := e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: workflow.ConsensusUnanimous}, unanimous, map[string]interface{}{})
	if result != Consensus {
		t.Errorf("Evaluate() = %v, want Consensus for all-approve", result)
	}

	split := []BranchOutcome{{Vote: VoteApprove}, {Vote: VoteAbstain}}
	result, _ = e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: workflow.ConsensusUnanimous}, split, map[string]interface{}{})
	if result != NoConsensus {
		t.Errorf("Evaluate() = %v, want NoConsensus for a non-approve vote", result)
	}
}

func TestJudgeDecides(t *testing.T) {
	agents := agent.NewRegistry()
	agents.Register("judge1", agent.Func(func(context.Context, string, map[string]interface{}) (agent.Response, error) {
		return agent.Response{Text: "I approve this"}, nil
	}))
	e := New(nil, agents, Options{})

	result, err := e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: workflow.ConsensusJudge, JudgeID: "judge1"}, []BranchOutcome{{Output: "x"}}, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result != Consensus {
		t.Errorf("Evaluate() = %v, want Consensus", result)
	}
}

func TestJudgeDecidesMissingJudge(t *testing.T) {
	e := New(nil, agent.NewRegistry(), Options{})
	_, err := e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: workflow.ConsensusJudge, JudgeID: "missing"}, nil, map[string]interface{}{})
	if err == nil {
		t.Fatal("Evaluate() error = nil, want error for missing judge agent")
	}
}

func TestEvaluateUnknownStrategy(t *testing.T) {
	e := New(nil, agent.NewRegistry(), Options{})
	_, err := e.Evaluate(context.Background(), workflow.ConsensusConfig{Strategy: "bogus"}, nil, map[string]interface{}{})
	if err == nil {
		t.Fatal("Evaluate() error = nil, want error for unknown strategy")
	}
}
