package workflow

import "testing"

func validWorkflow() *Workflow {
	return &Workflow{
		ID:        "wf1",
		StartNode: "a",
		Nodes: map[string]*Node{
			"a": {
				Type:        NodeStandard,
				Standard:    &StandardNode{AgentID: "agent1", Prompt: "{message}"},
				Transitions: []Transition{NewSuccess("end")},
			},
			"end": {Type: NodeEnd, End: &EndNode{Status: EndSuccess}},
		},
	}
}

func TestWorkflowValidateOK(t *testing.T) {
	if err := validWorkflow().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestWorkflowValidateMissingStartNode(t *testing.T) {
	wf := validWorkflow()
	wf.StartNode = ""
	err := wf.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want MISSING_START_NODE error")
	}
	if ve, ok := err.(*ValidationError); !ok || ve.Code != "MISSING_START_NODE" {
		t.Fatalf("Validate() error = %v, want MISSING_START_NODE", err)
	}
}

func TestWorkflowValidateStartNodeNotFound(t *testing.T) {
	wf := validWorkflow()
	wf.StartNode = "missing"
	err := wf.Validate()
	if ve, ok := err.(*ValidationError); !ok || ve.Code != "START_NODE_NOT_FOUND" {
		t.Fatalf("Validate() error = %v, want START_NODE_NOT_FOUND", err)
	}
}

func TestWorkflowValidateDanglingTransitionTarget(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes["a"].Transitions = []Transition{NewSuccess("nowhere")}
	err := wf.Validate()
	if ve, ok := err.(*ValidationError); !ok || ve.Code != "TARGET_NOT_FOUND" {
		t.Fatalf("Validate() error = %v, want TARGET_NOT_FOUND", err)
	}
}

func TestWorkflowValidateDanglingForkTarget(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes["fork"] = &Node{
		Type: NodeFork,
		Fork: &ForkNode{Targets: []string{"a", "nowhere"}},
	}
	err := wf.Validate()
	if ve, ok := err.(*ValidationError); !ok || ve.Code != "TARGET_NOT_FOUND" {
		t.Fatalf("Validate() error = %v, want TARGET_NOT_FOUND", err)
	}
}

func TestWorkflowValidateDanglingJoinAwaitTarget(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes["join"] = &Node{
		Type: NodeJoin,
		Join: &JoinNode{Await: []string{"a", "nowhere"}, MergeStrategy: MergeCollectAll},
	}
	err := wf.Validate()
	if ve, ok := err.(*ValidationError); !ok || ve.Code != "TARGET_NOT_FOUND" {
		t.Fatalf("Validate() error = %v, want TARGET_NOT_FOUND", err)
	}
}

func TestWorkflowNode(t *testing.T) {
	wf := validWorkflow()
	n, ok := wf.Node("a")
	if !ok || n.Standard.AgentID != "agent1" {
		t.Fatalf("Node(\"a\") = %+v, %v", n, ok)
	}
	if _, ok := wf.Node("missing"); ok {
		t.Fatal("Node(\"missing\") reported found")
	}
}
