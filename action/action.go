// Package action implements C4, the Action Dispatcher: routes Send/Execute
// actions to registered handlers, resolving templates in payloads first.
package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/hensuio/hensu/workflow"
	"github.com/hensuio/hensu/workflow/template"
)

// Result is the outcome of dispatching one Action. Errors never propagate to
// the caller as exceptions: failures are always materialised as
// Result{Success: false}.
type Result struct {
	Success bool
	Message string
	Output  map[string]interface{}
}

// Failure builds a failed Result carrying a diagnostic message.
func Failure(message string) Result {
	return Result{Success: false, Message: message}
}

// Handler is the consumed ActionHandler interface: execute a payload against
// the current context.
type Handler interface {
	Execute(ctx context.Context, payload map[string]interface{}, runContext map[string]interface{}) Result
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, payload map[string]interface{}, runContext map[string]interface{}) Result

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, payload map[string]interface{}, runContext map[string]interface{}) Result {
	return f(ctx, payload, runContext)
}

// CommandDefinition is a registered Execute-variant target: a shell command
// string resolved via templates before running. ServerMode dispatch always
// rejects CommandDefinitions (spec §4.4): this type exists for local-mode
// collaborators outside the scope of this module.
type CommandDefinition struct {
	ID    string
	Shell string
}

// Dispatcher is C4: the Action Dispatcher.
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	commands  map[string]CommandDefinition
	serverMode bool
}

// New builds a Dispatcher. serverMode, when true, causes every Execute
// action to fail with "unsupported in server mode" per spec §4.4.
func New(serverMode bool) *Dispatcher {
	return &Dispatcher{
		handlers:   make(map[string]Handler),
		commands:   make(map[string]CommandDefinition),
		serverMode: serverMode,
	}
}

// RegisterHandler binds handlerID to a Handler. Handlers may be registered
// at runtime, per the consumed-interface contract in spec §6.
func (d *Dispatcher) RegisterHandler(handlerID string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[handlerID] = h
}

// RegisterCommand binds a CommandDefinition for Execute-variant actions.
func (d *Dispatcher) RegisterCommand(cmd CommandDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[cmd.ID] = cmd
}

// Dispatch executes one Action synchronously against runContext.
func (d *Dispatcher) Dispatch(ctx context.Context, a workflow.Action, runContext map[string]interface{}) Result {
	switch a.Type {
	case workflow.ActionSend:
		return d.dispatchSend(ctx, a, runContext)
	case workflow.ActionExecute:
		return d.dispatchExecute(a)
	default:
		return Failure(fmt.Sprintf("unknown action type: %s", a.Type))
	}
}

func (d *Dispatcher) dispatchSend(ctx context.Context, a workflow.Action, runContext map[string]interface{}) Result {
	d.mu.RLock()
	h, ok := d.handlers[a.HandlerID]
	d.mu.RUnlock()
	if !ok {
		return Failure(fmt.Sprintf("handler not found: %s", a.HandlerID))
	}
	resolved := template.ResolveMap(a.Payload, runContext)
	return h.Execute(ctx, resolved, runContext)
}

func (d *Dispatcher) dispatchExecute(a workflow.Action) Result {
	if d.serverMode {
		return Failure("unsupported in server mode")
	}
	d.mu.RLock()
	_, ok := d.commands[a.CommandID]
	d.mu.RUnlock()
	if !ok {
		return Failure(fmt.Sprintf("command not found: %s", a.CommandID))
	}
	// Local-mode shell execution is outside the scope of this module; the
	// collaborator that runs CommandDefinition.Shell is injected by callers
	// that explicitly opt out of server mode.
	return Failure("local command execution is not implemented in this module")
}

// DispatchAll runs actions in order, stopping and reporting failure on the
// first one that fails, per C9's Action node dispatch rule.
func (d *Dispatcher) DispatchAll(ctx context.Context, actions []workflow.Action, runContext map[string]interface{}) (bool, []Result) {
	results := make([]Result, 0, len(actions))
	for _, a := range actions {
		r := d.Dispatch(ctx, a, runContext)
		results = append(results, r)
		if !r.Success {
			return false, results
		}
	}
	return true, results
}
