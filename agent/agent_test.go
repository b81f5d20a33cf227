package agent

import (
	"context"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("writer", Func(func(context.Context, string, map[string]interface{}) (Response, error) {
		return Response{Text: "done"}, nil
	}))

	a, ok := r.Lookup("writer")
	if !ok {
		t.Fatal("Lookup() ok = false, want true")
	}
	resp, err := a.Invoke(context.Background(), "prompt", nil)
	if err != nil || resp.Text != "done" {
		t.Fatalf("Invoke() = %+v, %v, want {Text: done}, nil", resp, err)
	}
}

func TestRegistryLookupMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("Lookup() ok = true for an unregistered id, want false")
	}
}

func TestRegistryRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	r.Register("a", Func(func(context.Context, string, map[string]interface{}) (Response, error) {
		return Response{Text: "first"}, nil
	}))
	r.Register("a", Func(func(context.Context, string, map[string]interface{}) (Response, error) {
		return Response{Text: "second"}, nil
	}))

	a, _ := r.Lookup("a")
	resp, _ := a.Invoke(context.Background(), "", nil)
	if resp.Text != "second" {
		t.Fatalf("Invoke() after re-Register = %q, want second", resp.Text)
	}
}
