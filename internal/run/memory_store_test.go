package run

import (
	"context"
	stdErrors "errors"
	"testing"

	"AgentFi-Mesh/internal/workflow"
)

func newRun(id string) *Run {
	return &Run{
		ID:         id,
		TemplateID: "safe_swap",
		Task:       "swap",
		Status:     StatusPending,
		MaxRetries: 3,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRun("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.CreatedAt == 0 {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRun("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newRun("r1")); !stdErrors.Is(err, ErrRunConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); !stdErrors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreClaimTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRun("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "r1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim state: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "r1"); !stdErrors.Is(err, ErrRunConflict) {
		t.Fatalf("running run must not be claimable, got %v", err)
	}
}

func TestMemoryStoreClaimExhausted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	r := newRun("r1")
	r.MaxRetries = 1
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "r1", CodeRunProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); !stdErrors.Is(err, ErrRunExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreMarkDoneMapsStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newRun("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result := &workflow.RunResult{Status: workflow.RunPartial, FailedSteps: []string{"execution"}}
	if err := store.MarkDone(ctx, "r1", result); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPartial {
		t.Fatalf("expected partial status, got %s", got.Status)
	}
	if got.Result == nil || len(got.Result.FailedSteps) != 1 {
		t.Fatalf("result not persisted: %+v", got.Result)
	}
	if _, err := store.Claim(ctx, "r1"); !stdErrors.Is(err, ErrRunCompleted) {
		t.Fatalf("terminal run must not be claimable, got %v", err)
	}
}

func TestMemoryStoreListOrdersByUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, newRun(id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := store.Claim(ctx, "b"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	runs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}
