package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDispatchBatchCorrelation(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("resmio_check_availability", func(_ context.Context, inv Invocation) (map[string]any, error) {
		return map[string]any{"status": "success", "slots": []string{"18:00", "19:30"}}, nil
	})

	invs := []Invocation{
		{ID: "fc-1", Name: "resmio_check_availability", Args: json.RawMessage(`{"guests":2}`)},
		{ID: "fc-2", Name: "crm_create_lead"},
	}
	results := d.DispatchBatch(context.Background(), invs)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if r.ID != invs[i].ID || r.Name != invs[i].Name {
			t.Fatalf("result %d lost correlation: %+v", i, r)
		}
	}
	if results[0].Response["slots"] == nil {
		t.Fatalf("registered handler response missing custom data: %+v", results[0].Response)
	}
	// Unregistered tool resolves to the generic success stub.
	if results[1].Response["status"] != "success" {
		t.Fatalf("stub response = %+v, want generic success", results[1].Response)
	}
}

func TestDispatchHandlerErrorYieldsFailureResult(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("broken", func(_ context.Context, _ Invocation) (map[string]any, error) {
		return nil, errors.New("upstream unavailable")
	})

	r := d.Dispatch(context.Background(), Invocation{ID: "fc-9", Name: "broken"})
	if r.ID != "fc-9" || r.Name != "broken" {
		t.Fatalf("failure result lost correlation: %+v", r)
	}
	if r.Response["status"] != "error" {
		t.Fatalf("status = %v, want error", r.Response["status"])
	}
}

func TestDispatchHandlerPanicRecovered(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("panicky", func(_ context.Context, _ Invocation) (map[string]any, error) {
		panic("boom")
	})

	r := d.Dispatch(context.Background(), Invocation{ID: "fc-3", Name: "panicky"})
	if r.Response["status"] != "error" {
		t.Fatalf("panicking handler should yield failure result, got %+v", r.Response)
	}
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(30 * time.Millisecond)
	d.Register("slow", func(ctx context.Context, _ Invocation) (map[string]any, error) {
		select {
		case <-time.After(2 * time.Second):
			return map[string]any{"status": "success"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	start := time.Now()
	r := d.Dispatch(context.Background(), Invocation{ID: "fc-4", Name: "slow"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch took %v, timeout not applied", elapsed)
	}
	if r.Response["status"] != "error" {
		t.Fatalf("timed out handler should yield failure result, got %+v", r.Response)
	}
}

func TestParseDeclarations(t *testing.T) {
	decls, err := ParseDeclarations(`[
		{"name":"resmio_check_availability","description":"Check open slots","parameters":{"type":"object","properties":{"guests":{"type":"number"}}}},
		{"name":"crm_create_lead"}
	]`)
	if err != nil {
		t.Fatalf("ParseDeclarations() error = %v", err)
	}
	if len(decls) != 2 || decls[0].Name != "resmio_check_availability" {
		t.Fatalf("unexpected declarations: %+v", decls)
	}
}

func TestParseDeclarationsSingleObject(t *testing.T) {
	decls, err := ParseDeclarations(`{"name":"end_call"}`)
	if err != nil {
		t.Fatalf("ParseDeclarations() error = %v", err)
	}
	if len(decls) != 1 || decls[0].Name != "end_call" {
		t.Fatalf("unexpected declarations: %+v", decls)
	}
}

func TestParseDeclarationsFailsFast(t *testing.T) {
	if _, err := ParseDeclarations(`[{"description":"missing name"}]`); err == nil {
		t.Fatalf("nameless declaration should fail at load")
	}
	if _, err := ParseDeclarations(`[{"name":"a","parameters":"not-an-object"}]`); err == nil {
		t.Fatalf("non-object parameters should fail at load")
	}
	if _, err := ParseDeclarations(`[{"name":"a"},{"name":"a"}]`); err == nil {
		t.Fatalf("duplicate names should fail at load")
	}
	if decls, err := ParseDeclarations(""); err != nil || decls != nil {
		t.Fatalf("empty blob = (%v, %v), want no tools", decls, err)
	}
}
