package rubric

import (
	"context"
	"errors"
	"testing"

	"github.com/hensuio/hensu/agent"
	"github.com/hensuio/hensu/workflow"
)

func TestEvaluateRubricNotFound(t *testing.T) {
	e := New(MapRepository{}, agent.NewRegistry(), Options{})
	_, err := e.Evaluate(context.Background(), "missing", "", map[string]interface{}{})
	if !errors.Is(err, ErrRubricNotFound) {
		t.Fatalf("Evaluate() error = %v, want ErrRubricNotFound", err)
	}
}

func TestEvaluateSelfModeExtractsScoreField(t *testing.T) {
	repo := MapRepository{"r1": workflow.Rubric{ID: "r1", PassThreshold: 70}}
	e := New(repo, agent.NewRegistry(), Options{})

	eval, err := e.Evaluate(context.Background(), "r1", `{"score": 85}`, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.Score != 85 || !eval.Passed {
		t.Errorf("Evaluate() = %+v, want score 85, passed", eval)
	}
}

func TestEvaluateSelfModeClampsAndFails(t *testing.T) {
	repo := MapRepository{"r1": workflow.Rubric{ID: "r1", PassThreshold: 70}}
	e := New(repo, agent.NewRegistry(), Options{})

	eval, err := e.Evaluate(context.Background(), "r1", `{"score": 150}`, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.Score != 100 {
		t.Errorf("Evaluate() Score = %v, want clamped to 100", eval.Score)
	}

	eval, err = e.Evaluate(context.Background(), "r1", `{"score": 10}`, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.Passed {
		t.Error("Evaluate() Passed = true for score below threshold")
	}
}

func TestEvaluateSelfModeFallsBackThroughCandidateFields(t *testing.T) {
	repo := MapRepository{"r1": workflow.Rubric{ID: "r1", PassThreshold: 50}}
	e := New(repo, agent.NewRegistry(), Options{})

	eval, err := e.Evaluate(context.Background(), "r1", `{"self_score": 60}`, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.Score != 60 {
		t.Errorf("Evaluate() Score = %v, want 60 from self_score fallback", eval.Score)
	}
}

func TestEvaluateSelfModeNoScoreFieldUsesRejectionKeywords(t *testing.T) {
	repo := MapRepository{"r1": workflow.Rubric{ID: "r1", PassThreshold: 50}}
	e := New(repo, agent.NewRegistry(), Options{})

	eval, err := e.Evaluate(context.Background(), "r1", "this output is unacceptable", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.Passed {
		t.Error("Evaluate() Passed = true for output containing a rejection keyword")
	}

	eval, err = e.Evaluate(context.Background(), "r1", "everything looks fine", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !eval.Passed {
		t.Error("Evaluate() Passed = false for plain output with no rejection keyword")
	}
}

func TestEvaluateWithJudgeDelegates(t *testing.T) {
	repo := MapRepository{"r1": workflow.Rubric{ID: "r1", PassThreshold: 50, JudgeAgentID: "judge1"}}
	agents := agent.NewRegistry()
	agents.Register("judge1", agent.Func(func(context.Context, string, map[string]interface{}) (agent.Response, error) {
		return agent.Response{Text: `{"score": 90}`}, nil
	}))
	e := New(repo, agents, Options{})

	eval, err := e.Evaluate(context.Background(), "r1", "raw candidate output", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if eval.Score != 90 {
		t.Errorf("Evaluate() via judge = %+v, want score 90", eval)
	}
}

func TestEvaluateWithMissingJudgeFallsBackToSelfModeAndSurfacesError(t *testing.T) {
	repo := MapRepository{"r1": workflow.Rubric{ID: "r1", PassThreshold: 50, JudgeAgentID: "nonexistent"}}
	e := New(repo, agent.NewRegistry(), Options{})

	eval, err := e.Evaluate(context.Background(), "r1", `{"score": 80}`, map[string]interface{}{})
	if err == nil {
		t.Fatal("Evaluate() error = nil, want error for missing judge agent")
	}
	if eval.Score != 80 {
		t.Errorf("Evaluate() fallback = %+v, want self-mode score 80", eval)
	}
}
