package engine

import (
	"testing"

	"github.com/hensuio/hensu/workflow"
)

func TestMatchScore(t *testing.T) {
	transitions := []workflow.Transition{
		workflow.NewSuccess("plainEnd"),
		workflow.NewScore(
			workflow.ScoreCondition{Operator: workflow.OpGTE, Operand: 80, Target: "highEnd"},
			workflow.ScoreCondition{Operator: workflow.OpGTE, Operand: 50, Target: "midEnd"},
		),
	}

	tests := []struct {
		name       string
		score      float64
		wantTarget string
		wantMatch  bool
	}{
		{"matches first condition", 90, "highEnd", true},
		{"falls through to second condition", 60, "midEnd", true},
		{"no condition matches", 10, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, ok := matchScore(transitions, tt.score)
			if ok != tt.wantMatch {
				t.Fatalf("matchScore() ok = %v, want %v", ok, tt.wantMatch)
			}
			if target != tt.wantTarget {
				t.Errorf("matchScore() target = %q, want %q", target, tt.wantTarget)
			}
		})
	}
}

func TestMatchScoreIgnoresNonScoreTransitions(t *testing.T) {
	transitions := []workflow.Transition{
		workflow.NewSuccess("a"),
		workflow.NewFailure(3, "b"),
	}
	if _, ok := matchScore(transitions, 100); ok {
		t.Fatal("matchScore() matched with no score transitions present")
	}
}

func TestSelectTransitionSuccess(t *testing.T) {
	transitions := []workflow.Transition{
		workflow.NewFailure(2, "retryTarget"),
		workflow.NewSuccess("successTarget"),
	}
	match, err := selectTransition(workflow.OutcomeSuccess, transitions)
	if err != nil {
		t.Fatalf("selectTransition() error = %v", err)
	}
	if match.target != "successTarget" {
		t.Errorf("target = %q, want successTarget", match.target)
	}
	if match.failure != nil {
		t.Error("failure should be nil for a Success match")
	}
}

func TestSelectTransitionFailure(t *testing.T) {
	transitions := []workflow.Transition{
		workflow.NewSuccess("successTarget"),
		workflow.NewFailure(2, "retryTarget"),
	}
	match, err := selectTransition(workflow.OutcomeFailure, transitions)
	if err != nil {
		t.Fatalf("selectTransition() error = %v", err)
	}
	if match.target != "retryTarget" {
		t.Errorf("target = %q, want retryTarget", match.target)
	}
	if match.failure == nil {
		t.Fatal("failure should be populated for a Failure match")
	}
	if match.failure.MaxRetries() != 2 {
		t.Errorf("MaxRetries() = %d, want 2", match.failure.MaxRetries())
	}
}

func TestSelectTransitionNoMatch(t *testing.T) {
	transitions := []workflow.Transition{workflow.NewSuccess("successTarget")}
	_, err := selectTransition(workflow.OutcomeFailure, transitions)
	if err != ErrNoValidTransition {
		t.Fatalf("err = %v, want ErrNoValidTransition", err)
	}
}
