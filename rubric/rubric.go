// Package rubric implements C3, the Rubric Engine: evaluates agent output
// against a named scoring policy, yielding a score in [0,100] and a pass
// flag. Scoring thresholds are checked the way the teacher's cost.go checks
// pricing thresholds: a small lookup plus a clamped numeric comparison.
package rubric

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hensuio/hensu/agent"
	"github.com/hensuio/hensu/workflow"
	"github.com/hensuio/hensu/workflow/params"
)

// ErrRubricNotFound is returned when the requested rubric id is not
// registered.
var ErrRubricNotFound = errors.New("rubric not found")

// candidateScoreFields is the order in which Self-mode scans an extracted
// JSON object for a numeric score field.
var candidateScoreFields = []string{"score", "self_score", "quality_score", "final_score"}

// defaultRejectionKeywords drives the conservative fallback when Self-mode finds no
// score field at all. This is the heuristic keyword set referenced by spec
// §9's first open question; kept small and overridable via Options.
var defaultRejectionKeywords = []string{"reject", "fail", "unacceptable", "incorrect"}

// Repository resolves a rubric id to its definition.
type Repository interface {
	Find(rubricID string) (workflow.Rubric, bool)
}

// MapRepository is an in-memory Repository backed by a plain map.
type MapRepository map[string]workflow.Rubric

// Find implements Repository.
func (m MapRepository) Find(rubricID string) (workflow.Rubric, bool) {
	r, ok := m[rubricID]
	return r, ok
}

// Options configures Engine, layered the way the teacher layers Options over
// functional option constructors.
type Options struct {
	// RejectionKeywords overrides the conservative fallback keyword set used
	// when Self-mode output carries no recognizable score field.
	RejectionKeywords []string
}

// Engine is C3: the Rubric Engine.
type Engine struct {
	repo     Repository
	agents   *agent.Registry
	rejectKw []string
}

// New builds a Rubric Engine backed by repo for rubric lookups and agents
// for LLM-judge evaluation.
func New(repo Repository, agents *agent.Registry, opts Options) *Engine {
	kw := opts.RejectionKeywords
	if len(kw) == 0 {
		kw = defaultRejectionKeywords
	}
	return &Engine{repo: repo, agents: agents, rejectKw: kw}
}

// Evaluate scores output against the named rubric. If the rubric declares a
// JudgeAgentID, that agent is invoked to score the output instead of
// Self-mode.
func (e *Engine) Evaluate(ctx context.Context, rubricID string, output string, runContext map[string]interface{}) (workflow.Evaluation, error) {
	r, ok := e.repo.Find(rubricID)
	if !ok {
		return workflow.Evaluation{}, fmt.Errorf("%w: %s", ErrRubricNotFound, rubricID)
	}

	if r.JudgeAgentID != "" {
		eval, err := e.evaluateWithJudge(ctx, r.JudgeAgentID, r, output, runContext)
		if err == nil {
			return eval, nil
		}
		// Fall through to Self-mode on judge failure, per C3's error contract:
		// the engine surfaces the error via the caller's fallback, never swallows it.
		eval2 := e.evaluateSelf(r, output, runContext)
		return eval2, err
	}
	return e.evaluateSelf(r, output, runContext), nil
}

func (e *Engine) evaluateSelf(r workflow.Rubric, output string, runContext map[string]interface{}) workflow.Evaluation {
	extracted := params.Extract(output, candidateScoreFields)
	for _, field := range candidateScoreFields {
		raw, ok := extracted[field]
		if !ok {
			continue
		}
		score := clamp(toFloat(raw), 0, 100)
		passed := score >= r.PassThreshold
		if !passed {
			obj := params.FirstJSONObject(output)
			rec := params.Extract(obj, []string{"recommendation"})
			if text, ok := rec["recommendation"].(string); ok && text != "" {
				runContext["self_evaluation_recommendations"] = text
			}
		}
		return workflow.Evaluation{RubricID: r.ID, Score: score, Passed: passed}
	}
	// No score field found: conservative fallback.
	passed := strings.TrimSpace(output) != "" && !containsAny(strings.ToLower(output), e.rejectKw)
	return workflow.Evaluation{RubricID: r.ID, Score: 50, Passed: passed}
}

func (e *Engine) evaluateWithJudge(ctx context.Context, judgeID string, r workflow.Rubric, output string, runContext map[string]interface{}) (workflow.Evaluation, error) {
	judge, ok := e.agents.Lookup(judgeID)
	if !ok {
		return workflow.Evaluation{}, fmt.Errorf("judge agent not found: %s", judgeID)
	}
	prompt := fmt.Sprintf("Evaluate the following output against rubric %q (pass threshold %.1f). Respond with JSON containing a numeric \"score\" field.\n\nOutput:\n%s", r.ID, r.PassThreshold, output)
	resp, err := judge.Invoke(ctx, prompt, runContext)
	if err != nil {
		return workflow.Evaluation{}, fmt.Errorf("judge agent invocation failed: %w", err)
	}
	return e.evaluateSelf(r, resp.Text, runContext), nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
