package run

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/workflow"
)

func startProcessor(t *testing.T, executor Executor, store Store, queue Queue) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(2))
	go func() {
		_ = processor.Start(ctx)
	}()
	return cancel
}

func TestProcessorExecutesSubmittedRun(t *testing.T) {
	engine := workflow.NewEngine()
	if err := workflow.RegisterBuiltins(engine); err != nil {
		t.Fatalf("register: %v", err)
	}

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	cancel := startProcessor(t, engine, store, queue)
	defer cancel()

	checker := TemplateChecker(func(id string) bool {
		_, ok := engine.Template(id)
		return ok
	})
	service := NewService(store, queue, checker, 3)

	submitted, err := service.Submit(context.Background(), Request{
		TemplateID: "safe_swap",
		Task:       "swap 1 ETH to USDC",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	done, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed run, got %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil || len(done.Result.Steps) != 5 {
		t.Fatalf("result not persisted: %+v", done.Result)
	}
}

func TestSubmitRejectsUnknownTemplate(t *testing.T) {
	engine := workflow.NewEngine()
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	checker := TemplateChecker(func(id string) bool {
		_, ok := engine.Template(id)
		return ok
	})
	service := NewService(store, queue, checker, 3)

	_, err := service.Submit(context.Background(), Request{TemplateID: "ghost", Task: "t"})
	if xerrors.CodeOf(err) != CodeRunValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, nil, 3)

	first, err := service.Submit(context.Background(), Request{ID: "fixed", TemplateID: "safe_swap", Task: "t"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(context.Background(), Request{ID: "fixed", TemplateID: "safe_swap", Task: "t"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("idempotent submit must return the same run, got %s and %s", first.ID, second.ID)
	}
	runs, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected a single stored run, got %d", len(runs))
	}
}

type failingExecutor struct {
	err error
}

func (f failingExecutor) Execute(context.Context, string, string, map[string]any) (*workflow.RunResult, error) {
	return nil, f.err
}

func TestProcessorMarksRunFailedOnEngineError(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	executor := failingExecutor{err: xerrors.New(workflow.CodeTemplateUnknown, "模板未注册")}
	cancel := startProcessor(t, executor, store, queue)
	defer cancel()

	service := NewService(store, queue, nil, 3)
	submitted, err := service.Submit(context.Background(), Request{TemplateID: "ghost", Task: "t"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	done, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed {
		t.Fatalf("expected failed run, got %s", done.Status)
	}
	if done.ErrorCode != string(workflow.CodeTemplateUnknown) {
		t.Fatalf("error code lost: %q", done.ErrorCode)
	}
	// 配置错误不可重试，不应再次领取。
	if _, err := store.Claim(context.Background(), done.ID); stdErrors.Is(err, nil) {
		t.Fatal("terminal failure should not be claimable without retry budget")
	}
}
