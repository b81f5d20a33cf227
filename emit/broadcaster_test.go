package emit

import (
	"context"
	"testing"
	"time"
)

func TestRunAsAndScopedExecutionID(t *testing.T) {
	if got := ScopedExecutionID(context.Background()); got != "" {
		t.Fatalf("ScopedExecutionID() on unscoped context = %q, want empty", got)
	}

	var observed string
	RunAs(context.Background(), "exec-1", func(ctx context.Context) {
		observed = ScopedExecutionID(ctx)
	})
	if observed != "exec-1" {
		t.Fatalf("ScopedExecutionID() inside RunAs = %q, want exec-1", observed)
	}
}

func TestBroadcasterPublishDeliversInOrder(t *testing.T) {
	b := NewBroadcaster(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, unsubscribe := b.Subscribe(ctx, "exec-1")
	defer unsubscribe()

	b.Publish(Event{ExecutionID: "exec-1", Kind: KindNodeStarted, NodeID: "a"})
	b.Publish(Event{ExecutionID: "exec-1", Kind: KindNodeCompleted, NodeID: "a"})

	first := recvEvent(t, out)
	second := recvEvent(t, out)
	if first.Kind != KindNodeStarted || second.Kind != KindNodeCompleted {
		t.Fatalf("delivery order = [%s %s], want [%s %s]", first.Kind, second.Kind, KindNodeStarted, KindNodeCompleted)
	}
}

func TestBroadcasterDoesNotCrossDeliverBetweenExecutions(t *testing.T) {
	b := NewBroadcaster(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outA, unsubA := b.Subscribe(ctx, "exec-a")
	defer unsubA()
	outB, unsubB := b.Subscribe(ctx, "exec-b")
	defer unsubB()

	b.Publish(Event{ExecutionID: "exec-a", Kind: KindNodeStarted})

	ev := recvEvent(t, outA)
	if ev.ExecutionID != "exec-a" {
		t.Fatalf("subscriber for exec-a got %+v", ev)
	}
	select {
	case ev := <-outB:
		t.Fatalf("subscriber for exec-b unexpectedly received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterPlanRouteOverridesExecutionID(t *testing.T) {
	b := NewBroadcaster(8)
	b.RegisterPlanRoute("plan-1", "exec-routed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, unsubscribe := b.Subscribe(ctx, "exec-routed")
	defer unsubscribe()

	b.Publish(Event{ExecutionID: "exec-original", Kind: KindPlanCreated, Meta: map[string]interface{}{"planId": "plan-1"}})

	ev := recvEvent(t, out)
	if ev.ExecutionID != "exec-routed" {
		t.Fatalf("Publish() with a plan route = ExecutionID %q, want exec-routed", ev.ExecutionID)
	}
}

func TestBroadcasterUnregisterPlanRoute(t *testing.T) {
	b := NewBroadcaster(8)
	b.RegisterPlanRoute("plan-1", "exec-routed")
	b.UnregisterPlanRoute("plan-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, unsubscribe := b.Subscribe(ctx, "exec-original")
	defer unsubscribe()

	b.Publish(Event{ExecutionID: "exec-original", Kind: KindPlanCreated, Meta: map[string]interface{}{"planId": "plan-1"}})

	ev := recvEvent(t, out)
	if ev.ExecutionID != "exec-original" {
		t.Fatalf("Publish() after UnregisterPlanRoute = ExecutionID %q, want exec-original", ev.ExecutionID)
	}
}

func TestBroadcasterFansOutToSinks(t *testing.T) {
	sink := NewBufferedEmitter()
	b := NewBroadcaster(8, sink)

	b.Publish(Event{ExecutionID: "exec-1", Kind: KindExecutionStarted})
	b.Publish(Event{ExecutionID: "exec-1", Kind: KindExecutionCompleted})

	history := sink.History("exec-1")
	if len(history) != 2 {
		t.Fatalf("sink.History() len = %d, want 2", len(history))
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, unsubscribe := b.Subscribe(ctx, "exec-1")
	unsubscribe()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("channel delivered a value after unsubscribe, want closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close within 1s of unsubscribe")
	}
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBufferedEmitterClear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{ExecutionID: "exec-1", Kind: KindNodeStarted})
	if len(b.History("exec-1")) != 1 {
		t.Fatal("expected one recorded event before Clear")
	}
	b.Clear("exec-1")
	if len(b.History("exec-1")) != 0 {
		t.Fatal("Clear() did not remove recorded events")
	}
}
