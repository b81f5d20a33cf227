// Package review implements C6, the Review Gate: requests a decision from an
// external reviewer per the node's ReviewConfig.mode, and interprets
// Approve/Reject/Backtrack decisions.
package review

import (
	"context"

	"github.com/hensuio/hensu/workflow"
)

// DecisionKind discriminates a Reviewer's reply.
type DecisionKind string

const (
	Approve   DecisionKind = "Approve"
	Reject    DecisionKind = "Reject"
	Backtrack DecisionKind = "Backtrack"
	// Pause defers the decision to a human: the Executor checkpoints the
	// execution with reason "paused" at the current node and returns,
	// without following Success/Failure transitions. resumeExecution later
	// supplies the real decision as an override.
	Pause DecisionKind = "Pause"
)

// Decision is the Reviewer's reply to a review request.
type Decision struct {
	Kind Kind
	// Reject / Backtrack
	Reason string
	// Backtrack
	TargetNodeID  string
	StateOverride workflow.Context
}

// Kind is an alias kept for readability at call sites (Decision.Kind).
type Kind = DecisionKind

// Request carries everything a Reviewer needs to decide.
type Request struct {
	Node       *workflow.Node
	NodeID     string
	State      *workflow.HensuState
	Outcome    workflow.StepOutcome
	Output     string
}

// Reviewer is the consumed interface: may block, must honour cancellation.
type Reviewer interface {
	Request(ctx context.Context, req Request) (Decision, error)
}

// ReviewerFunc adapts a plain function to Reviewer.
type ReviewerFunc func(ctx context.Context, req Request) (Decision, error)

// Request implements Reviewer.
func (f ReviewerFunc) Request(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// AutoApprove is a Reviewer that always approves, used for ReviewDisabled
// and the auto-approve path of ReviewOptional.
var AutoApprove Reviewer = ReviewerFunc(func(context.Context, Request) (Decision, error) {
	return Decision{Kind: Approve}, nil
})

// Gate is C6: decides whether a reviewer must be invoked, and normalizes a
// reviewer failure into a Reject decision (ReviewHandlerFailure, spec §7).
type Gate struct {
	reviewer Reviewer
}

// New builds a Gate backed by reviewer for Required/Optional-on-failure
// invocations.
func New(reviewer Reviewer) *Gate {
	if reviewer == nil {
		reviewer = AutoApprove
	}
	return &Gate{reviewer: reviewer}
}

// Decide applies the node's ReviewConfig.mode and returns the effective
// Decision, per spec §4.6.
func (g *Gate) Decide(ctx context.Context, cfg *workflow.ReviewConfig, req Request) Decision {
	mode := workflow.ReviewDisabled
	if cfg != nil {
		mode = cfg.Mode
	}

	needsReview := false
	switch mode {
	case workflow.ReviewDisabled:
		needsReview = false
	case workflow.ReviewOptional:
		needsReview = req.Outcome == workflow.OutcomeFailure
	case workflow.ReviewRequired:
		needsReview = true
	}
	if !needsReview {
		return Decision{Kind: Approve}
	}

	decision, err := g.reviewer.Request(ctx, req)
	if err != nil {
		return Decision{Kind: Reject, Reason: err.Error()}
	}
	return decision
}
