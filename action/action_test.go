package action

import (
	"context"
	"testing"

	"github.com/hensuio/hensu/workflow"
)

func TestDispatchSendSuccess(t *testing.T) {
	d := New(false)
	var gotPayload map[string]interface{}
	d.RegisterHandler("notify", HandlerFunc(func(_ context.Context, payload map[string]interface{}, _ map[string]interface{}) Result {
		gotPayload = payload
		return Result{Success: true, Message: "sent"}
	}))

	a := workflow.NewSendAction("notify", map[string]interface{}{"to": "{user}"})
	r := d.Dispatch(context.Background(), a, map[string]interface{}{"user": "alice"})

	if !r.Success {
		t.Fatalf("Dispatch() = %+v, want Success", r)
	}
	if gotPayload["to"] != "alice" {
		t.Errorf("payload[to] = %v, want template resolved to alice", gotPayload["to"])
	}
}

func TestDispatchSendHandlerNotFound(t *testing.T) {
	d := New(false)
	r := d.Dispatch(context.Background(), workflow.NewSendAction("missing", nil), map[string]interface{}{})
	if r.Success {
		t.Fatal("Dispatch() Success = true for unregistered handler")
	}
}

func TestDispatchExecuteServerModeRejected(t *testing.T) {
	d := New(true)
	d.RegisterCommand(CommandDefinition{ID: "deploy", Shell: "echo hi"})
	r := d.Dispatch(context.Background(), workflow.NewExecuteAction("deploy"), map[string]interface{}{})
	if r.Success {
		t.Fatal("Dispatch() Success = true for Execute action under server mode")
	}
}

func TestDispatchExecuteCommandNotFound(t *testing.T) {
	d := New(false)
	r := d.Dispatch(context.Background(), workflow.NewExecuteAction("missing"), map[string]interface{}{})
	if r.Success {
		t.Fatal("Dispatch() Success = true for unregistered command")
	}
}

func TestDispatchAllStopsOnFirstFailure(t *testing.T) {
	d := New(false)
	var calls []string
	d.RegisterHandler("ok", HandlerFunc(func(context.Context, map[string]interface{}, map[string]interface{}) Result {
		calls = append(calls, "ok")
		return Result{Success: true}
	}))
	d.RegisterHandler("bad", HandlerFunc(func(context.Context, map[string]interface{}, map[string]interface{}) Result {
		calls = append(calls, "bad")
		return Failure("boom")
	}))

	actions := []workflow.Action{
		workflow.NewSendAction("ok", nil),
		workflow.NewSendAction("bad", nil),
		workflow.NewSendAction("ok", nil),
	}
	success, results := d.DispatchAll(context.Background(), actions, map[string]interface{}{})

	if success {
		t.Fatal("DispatchAll() success = true, want false")
	}
	if len(results) != 2 {
		t.Fatalf("DispatchAll() ran %d actions, want 2 (stop on first failure)", len(results))
	}
	if len(calls) != 2 || calls[1] != "bad" {
		t.Fatalf("calls = %v, want [ok bad]", calls)
	}
}

func TestDispatchAllAllSucceed(t *testing.T) {
	d := New(false)
	d.RegisterHandler("ok", HandlerFunc(func(context.Context, map[string]interface{}, map[string]interface{}) Result {
		return Result{Success: true}
	}))

	success, results := d.DispatchAll(context.Background(), []workflow.Action{
		workflow.NewSendAction("ok", nil),
		workflow.NewSendAction("ok", nil),
	}, map[string]interface{}{})

	if !success || len(results) != 2 {
		t.Fatalf("DispatchAll() = %v, %d results, want true, 2", success, len(results))
	}
}
