package engine

import (
	"errors"

	"github.com/hensuio/hensu/workflow"
)

// ErrNoValidTransition is returned when no transition rule matches a node's
// outcome, per spec §4.10 step 4. Fatal: the caller aborts the execution.
var ErrNoValidTransition = errors.New("no valid transition")

// transitionMatch is the result of selectTransition: the chosen target, plus
// the matched Failure transition (if any) so the caller can apply its retry
// budget.
type transitionMatch struct {
	target  string
	failure *workflow.Transition
}

// matchScore returns the target of the first ScoreTransition condition (in
// declared transition and condition order) that matches score. Checked
// ahead of Success/Failure selection and ahead of auto-backtrack, per spec
// §4.10/§9: "Score transitions always take precedence over auto-backtrack."
func matchScore(transitions []workflow.Transition, score float64) (string, bool) {
	for _, t := range transitions {
		if t.Type != workflow.TransitionScore {
			continue
		}
		for _, cond := range t.Conditions() {
			if cond.Matches(score) {
				return cond.Target, true
			}
		}
	}
	return "", false
}

// selectTransition implements the Success/Failure half of spec §4.10's
// transition-selection algorithm: the first Success transition on a Success
// outcome, the first Failure transition (with its retry budget) on Failure,
// else ErrNoValidTransition. Score routing is handled separately by
// matchScore before this is called.
func selectTransition(outcome workflow.StepOutcome, transitions []workflow.Transition) (transitionMatch, error) {
	switch outcome {
	case workflow.OutcomeSuccess:
		for _, t := range transitions {
			if t.Type == workflow.TransitionSuccess {
				return transitionMatch{target: t.Target()}, nil
			}
		}
	case workflow.OutcomeFailure:
		for i := range transitions {
			if transitions[i].Type == workflow.TransitionFailure {
				t := transitions[i]
				return transitionMatch{target: t.Target(), failure: &t}, nil
			}
		}
	}
	return transitionMatch{}, ErrNoValidTransition
}
