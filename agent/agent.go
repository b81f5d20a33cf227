// Package agent defines the Agent contract the core consumes, and thin
// adapters translating it onto three LLM provider SDKs. Adapters contain no
// orchestration logic: they are pure (prompt, ctx) -> Response translators,
// matching the shape of the teacher's graph/model package.
package agent

import "context"

// Response is what an Agent returns for one invocation.
type Response struct {
	Text     string
	Metadata map[string]interface{}
}

// Agent is the consumed interface the core dispatches agent calls through.
// Implementations are stateless with respect to the core and may time out;
// they must honour ctx cancellation.
type Agent interface {
	Invoke(ctx context.Context, prompt string, runContext map[string]interface{}) (Response, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, prompt string, runContext map[string]interface{}) (Response, error)

// Invoke implements Agent.
func (f Func) Invoke(ctx context.Context, prompt string, runContext map[string]interface{}) (Response, error) {
	return f(ctx, prompt, runContext)
}

// Registry resolves an agentId to its registered Agent, mirroring how
// Workflow.Agents resolves AgentConfig entries at compile time.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds or replaces the Agent bound to id.
func (r *Registry) Register(id string, a Agent) {
	r.agents[id] = a
}

// Lookup returns the Agent bound to id.
func (r *Registry) Lookup(id string) (Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}
