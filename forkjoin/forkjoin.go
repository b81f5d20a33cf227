// Package forkjoin implements C8, the Fork/Join Coordinator: spawns branch
// sub-traversals, one goroutine per target, awaits them, and merges outputs
// under a strategy. Grounded on the teacher's Frontier/WorkItem scheduler
// (graph/scheduler.go) and executeParallel/mergeDeltas (graph/engine.go):
// sync.WaitGroup join barriers and declared-order (not completion-order)
// result merging.
package forkjoin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hensuio/hensu/workflow"
)

// ErrJoinTimeout is returned when a Join does not resolve within its
// configured timeout.
var ErrJoinTimeout = errors.New("join timed out")

// ErrJoinBranchFailure is returned when failOnAnyError is true and at least
// one awaited branch failed.
var ErrJoinBranchFailure = errors.New("join branch failed")

// BranchResult is one sub-traversal's outcome, keyed by the target node id
// it started from.
type BranchResult struct {
	TargetID string
	Output   string
	Err      error
}

// RunFunc starts a fresh sub-traversal at startNodeID using a copy-on-fork
// state, and returns its final output string and outcome. Implemented by the
// engine package and injected here to avoid a circular dependency between
// C8 and C10.
type RunFunc func(ctx context.Context, startNodeID string, state *workflow.HensuState) (output string, outcome workflow.StepOutcome, err error)

type forkEntry struct {
	mu      sync.Mutex
	results []BranchResult
	done    chan struct{}
}

// Coordinator is C8.
type Coordinator struct {
	mu    sync.Mutex
	forks map[string]*forkEntry // forkNodeID -> entry
}

// New builds an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{forks: make(map[string]*forkEntry)}
}

// Fork spawns one concurrent sub-traversal per target, each on a copy-on-fork
// clone of state (siblings cannot mutate the parent's context). If
// node.WaitAll is true, Fork blocks until every target sub-traversal reaches
// a terminal node and returns the aggregate outcome (Success iff all
// branches succeeded); otherwise it returns immediately with Success and the
// branches continue in the background, to be collected later by Join.
func (c *Coordinator) Fork(ctx context.Context, forkNodeID string, node *workflow.ForkNode, state *workflow.HensuState, run RunFunc) (workflow.StepOutcome, error) {
	entry := &forkEntry{done: make(chan struct{})}
	c.mu.Lock()
	c.forks[forkNodeID] = entry
	c.mu.Unlock()

	results := make([]BranchResult, len(node.Targets))
	var wg sync.WaitGroup
	for i, target := range node.Targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			branchState := state.Clone()
			branchState.CurrentNodeID = target
			output, outcome, err := run(ctx, target, branchState)
			if err == nil && outcome == workflow.OutcomeFailure {
				err = fmt.Errorf("branch %s ended in failure", target)
			}
			results[i] = BranchResult{TargetID: target, Output: output, Err: err}
		}(i, target)
	}

	go func() {
		wg.Wait()
		entry.mu.Lock()
		entry.results = results
		entry.mu.Unlock()
		close(entry.done)
	}()

	if !node.WaitAll {
		return workflow.OutcomeSuccess, nil
	}

	select {
	case <-entry.done:
		for _, r := range results {
			if r.Err != nil {
				return workflow.OutcomeFailure, nil
			}
		}
		return workflow.OutcomeSuccess, nil
	case <-ctx.Done():
		return workflow.OutcomeFailure, ctx.Err()
	}
}

// Join awaits the fork(s) named in node.Await and merges their branch
// results per node.MergeStrategy, in declared target order (not completion
// order). Every awaited fork is waited for in full before merging, so
// FirstSuccess yields the output of the first successful branch in declared
// target order, not of the branch that finished first.
func (c *Coordinator) Join(ctx context.Context, node *workflow.JoinNode, defaultTimeout time.Duration) (merged interface{}, outcome workflow.StepOutcome, err error) {
	timeout := time.Duration(node.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	deadline := time.Now().Add(timeout)

	var all []BranchResult
	for _, forkID := range node.Await {
		entry := c.entryFor(forkID)
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-entry.done:
			entry.mu.Lock()
			all = append(all, entry.results...)
			entry.mu.Unlock()
		case <-time.After(remaining):
			return nil, workflow.OutcomeFailure, ErrJoinTimeout
		case <-ctx.Done():
			return nil, workflow.OutcomeFailure, ctx.Err()
		}
	}

	if node.FailOnAnyError {
		for _, r := range all {
			if r.Err != nil {
				return nil, workflow.OutcomeFailure, fmt.Errorf("%w: target %s: %v", ErrJoinBranchFailure, r.TargetID, r.Err)
			}
		}
	}

	successes := make([]BranchResult, 0, len(all))
	for _, r := range all {
		if r.Err == nil {
			successes = append(successes, r)
		}
	}

	switch node.MergeStrategy {
	case workflow.MergeCollectAll:
		outputs := make([]string, len(successes))
		for i, r := range successes {
			outputs[i] = r.Output
		}
		return outputs, workflow.OutcomeSuccess, nil
	case workflow.MergeFirstSuccess:
		if len(successes) == 0 {
			return "", workflow.OutcomeSuccess, nil
		}
		return successes[0].Output, workflow.OutcomeSuccess, nil
	case workflow.MergeConcatenate:
		parts := make([]string, len(successes))
		for i, r := range successes {
			parts[i] = r.Output
		}
		return strings.Join(parts, ""), workflow.OutcomeSuccess, nil
	default:
		return nil, workflow.OutcomeFailure, fmt.Errorf("unknown merge strategy: %s", node.MergeStrategy)
	}
}

func (c *Coordinator) entryFor(forkNodeID string) *forkEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.forks[forkNodeID]
	if !ok {
		// A Join awaiting a Fork that hasn't run yet (or was never reached) is
		// given a not-yet-done entry so it waits out its timeout rather than
		// panicking, and then fails with ErrJoinTimeout.
		entry = &forkEntry{done: make(chan struct{})}
		c.forks[forkNodeID] = entry
	}
	return entry
}
