// Package workflow defines the wire-format data model for Hensu workflow
// definitions: workflows, nodes, transitions, and actions. Nodes, transitions,
// and actions are closed sums with a JSON discriminator field, matched by
// concrete shape rather than by reflection on Go type names.
package workflow

import "fmt"

// Workflow is an immutable, compiled workflow definition shared by reference
// across every execution that references it.
type Workflow struct {
	ID        string                `json:"id"`
	Version   string                `json:"version"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
	StartNode string                `json:"startNode"`
	Nodes     map[string]*Node      `json:"nodes"`
	Agents    map[string]AgentConfig `json:"agents,omitempty"`
	Rubrics   map[string]RubricRef  `json:"rubrics,omitempty"`
}

// AgentConfig is a reference configuration for a registered agent, resolved
// by the caller-supplied Agent registry at dispatch time.
type AgentConfig struct {
	ID       string            `json:"id"`
	Model    string            `json:"model,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

// RubricRef points at a Rubric registered in a RubricRepository.
type RubricRef struct {
	ID string `json:"id"`
}

// Validate checks the structural invariants from the data model: the start
// node exists, and every node reachable by ID reference resolves.
func (w *Workflow) Validate() error {
	if w.StartNode == "" {
		return &ValidationError{Code: "MISSING_START_NODE", Message: "workflow has no startNode"}
	}
	if _, ok := w.Nodes[w.StartNode]; !ok {
		return &ValidationError{Code: "START_NODE_NOT_FOUND", Message: fmt.Sprintf("startNode %q not found in nodes", w.StartNode)}
	}
	for id, n := range w.Nodes {
		if err := w.validateNode(id, n); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) validateNode(id string, n *Node) error {
	resolve := func(target string) error {
		if target == "" {
			return nil
		}
		if _, ok := w.Nodes[target]; !ok {
			return &ValidationError{Code: "TARGET_NOT_FOUND", Message: fmt.Sprintf("node %q references unknown target %q", id, target)}
		}
		return nil
	}
	for _, t := range n.Transitions {
		if err := resolve(t.Target()); err != nil {
			return err
		}
		for _, c := range t.Conditions() {
			if err := resolve(c.Target); err != nil {
				return err
			}
		}
	}
	switch n.Type {
	case NodeFork:
		for _, target := range n.Fork.Targets {
			if err := resolve(target); err != nil {
				return err
			}
		}
	case NodeJoin:
		for _, await := range n.Join.Await {
			if err := resolve(await); err != nil {
				return err
			}
		}
	}
	return nil
}

// Node looks up a node by ID.
func (w *Workflow) Node(id string) (*Node, bool) {
	n, ok := w.Nodes[id]
	return n, ok
}
