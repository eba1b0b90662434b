package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "AgentFi-Mesh/internal/errors"
)

// scriptedExecutor 按步骤 ID 返回预设结果，并记录调用轨迹。
type scriptedExecutor struct {
	mu       sync.Mutex
	failures map[string]string
	errs     map[string]error
	inputs   map[string]map[string]any
	running  int
	maxSeen  int
	delay    time.Duration
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		failures: make(map[string]string),
		errs:     make(map[string]error),
		inputs:   make(map[string]map[string]any),
	}
}

func (s *scriptedExecutor) ExecuteStep(ctx context.Context, step StepDef, _ *Context, input map[string]any) (*AgentResult, error) {
	s.mu.Lock()
	s.inputs[step.ID] = input
	s.running++
	if s.running > s.maxSeen {
		s.maxSeen = s.running
	}
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(s.delay):
		}
	}

	s.mu.Lock()
	s.running--
	s.mu.Unlock()

	if err, ok := s.errs[step.ID]; ok {
		return nil, err
	}
	if reason, ok := s.failures[step.ID]; ok {
		return &AgentResult{Success: false, Output: reason}, nil
	}
	return &AgentResult{
		Success: true,
		Output:  "ok",
		Data:    map[string]any{"from": step.ID},
	}, nil
}

func diamondTemplate() Template {
	return Template{
		ID:   "diamond",
		Name: "diamond",
		Steps: []StepDef{
			{ID: "a", Name: "A", Capability: "market_data", Action: "fetch"},
			{ID: "b", Name: "B", Capability: "research", Action: "inspect"},
			{ID: "c", Name: "C", Capability: "analysis", Action: "combine", DependsOn: []string{"a", "b"}},
		},
	}
}

func TestExecuteUnknownTemplate(t *testing.T) {
	engine := NewEngine()
	_, err := engine.Execute(context.Background(), "missing", "do it", nil)
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
	if xerrors.CodeOf(err) != CodeTemplateUnknown {
		t.Fatalf("expected code %s, got %s", CodeTemplateUnknown, xerrors.CodeOf(err))
	}
}

func TestExecuteAllStepsComplete(t *testing.T) {
	exec := newScriptedExecutor()
	engine := NewEngine(WithExecutor(exec))
	if err := engine.RegisterTemplate(diamondTemplate()); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := engine.Execute(context.Background(), "diamond", "swap 1 ETH", map[string]any{"pair": "ETH/USDC"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != RunCompleted {
		t.Fatalf("expected completed run, got %s (failed=%v skipped=%v)", result.Status, result.FailedSteps, result.SkippedSteps)
	}
	if result.RunID == "" {
		t.Fatal("run id must be assigned")
	}
	if len(result.Steps) != 3 {
		t.Fatalf("expected 3 step results, got %d", len(result.Steps))
	}
	for i, want := range []string{"a", "b", "c"} {
		if result.Steps[i].StepID != want {
			t.Fatalf("step results must follow declaration order, got %v", result.Steps)
		}
		if result.Steps[i].State != StepCompleted {
			t.Fatalf("step %s not completed: %s", want, result.Steps[i].State)
		}
	}
}

func TestInputAssemblyIncludesAncestorOutputs(t *testing.T) {
	exec := newScriptedExecutor()
	engine := NewEngine(WithExecutor(exec))
	if err := engine.RegisterTemplate(diamondTemplate()); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := engine.Execute(context.Background(), "diamond", "combine", nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	input := exec.inputs["c"]
	if input == nil {
		t.Fatal("step c was never executed")
	}
	if input["task"] != "combine" {
		t.Fatalf("input must carry the user task, got %v", input["task"])
	}
	for _, dep := range []string{"a", "b"} {
		out, ok := input[dep].(map[string]any)
		if !ok {
			t.Fatalf("input missing ancestor %s output: %v", dep, input)
		}
		if out["from"] != dep {
			t.Fatalf("wrong output wired for %s: %v", dep, out)
		}
	}
}

func TestFailedDependencySkipsDescendants(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failures["a"] = "slippage above threshold"
	engine := NewEngine(WithExecutor(exec))
	if err := engine.RegisterTemplate(diamondTemplate()); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := engine.Execute(context.Background(), "diamond", "combine", nil)
	if err != nil {
		t.Fatalf("step failures must not surface as errors, got %v", err)
	}
	if result.Status != RunPartial {
		t.Fatalf("expected partial run, got %s", result.Status)
	}

	states := make(map[string]StepState)
	reasons := make(map[string]string)
	for _, step := range result.Steps {
		states[step.StepID] = step.State
		reasons[step.StepID] = step.Reason
	}
	if states["a"] != StepFailed {
		t.Fatalf("step a should be failed, got %s", states["a"])
	}
	if states["b"] != StepCompleted {
		t.Fatalf("independent branch must still run, got %s", states["b"])
	}
	if states["c"] != StepSkipped {
		t.Fatalf("dependent step must be skipped, got %s", states["c"])
	}
	if !strings.Contains(reasons["c"], "a") {
		t.Fatalf("skip reason should name the failed dependency, got %q", reasons["c"])
	}
	if len(result.FailedSteps) != 1 || result.FailedSteps[0] != "a" {
		t.Fatalf("unexpected failed list: %v", result.FailedSteps)
	}
	if len(result.SkippedSteps) != 1 || result.SkippedSteps[0] != "c" {
		t.Fatalf("unexpected skipped list: %v", result.SkippedSteps)
	}
}

func TestExecutorErrorMarksStepFailed(t *testing.T) {
	exec := newScriptedExecutor()
	exec.errs["b"] = errors.New("rpc timeout")
	engine := NewEngine(WithExecutor(exec))
	if err := engine.RegisterTemplate(diamondTemplate()); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := engine.Execute(context.Background(), "diamond", "combine", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != RunPartial {
		t.Fatalf("expected partial run, got %s", result.Status)
	}
	for _, step := range result.Steps {
		if step.StepID == "b" {
			if step.State != StepFailed {
				t.Fatalf("expected b failed, got %s", step.State)
			}
			if !strings.Contains(step.Reason, "rpc timeout") {
				t.Fatalf("failure reason lost: %q", step.Reason)
			}
		}
	}
}

func TestIndependentStepsRunConcurrently(t *testing.T) {
	exec := newScriptedExecutor()
	exec.delay = 50 * time.Millisecond
	engine := NewEngine(WithExecutor(exec))
	if err := engine.RegisterTemplate(diamondTemplate()); err != nil {
		t.Fatalf("register: %v", err)
	}

	start := time.Now()
	if _, err := engine.Execute(context.Background(), "diamond", "combine", nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	elapsed := time.Since(start)

	exec.mu.Lock()
	maxSeen := exec.maxSeen
	exec.mu.Unlock()
	if maxSeen < 2 {
		t.Fatalf("independent steps a and b should overlap, max concurrency %d", maxSeen)
	}
	// a 与 b 并行、c 串行：两轮耗时应远小于三次串行。
	if elapsed > 140*time.Millisecond {
		t.Fatalf("run took %v, steps were not dispatched concurrently", elapsed)
	}
}

func TestRunBudgetSkipsRemainingSteps(t *testing.T) {
	exec := newScriptedExecutor()
	exec.delay = 30 * time.Millisecond
	engine := NewEngine(WithExecutor(exec), WithRunBudget(45*time.Millisecond))
	if err := engine.RegisterTemplate(Template{
		ID:   "chain",
		Name: "chain",
		Steps: []StepDef{
			{ID: "one", Name: "one", Capability: "market_data", Action: "fetch"},
			{ID: "two", Name: "two", Capability: "analysis", Action: "crunch", DependsOn: []string{"one"}},
			{ID: "three", Name: "three", Capability: "execution", Action: "fire", DependsOn: []string{"two"}},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := engine.Execute(context.Background(), "chain", "slow task", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status == RunCompleted {
		t.Fatal("run should not complete within the budget")
	}
	found := false
	for _, step := range result.Steps {
		if step.State == StepSkipped && strings.Contains(step.Reason, "budget") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one budget-skipped step, got %+v", result.Steps)
	}
}

func TestAllStepsFailingYieldsFailedRun(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failures["solo"] = "boom"
	engine := NewEngine(WithExecutor(exec))
	if err := engine.RegisterTemplate(Template{
		ID:    "solo",
		Name:  "solo",
		Steps: []StepDef{{ID: "solo", Name: "solo", Capability: "execution", Action: "fire"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := engine.Execute(context.Background(), "solo", "t", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != RunFailed {
		t.Fatalf("expected failed run, got %s", result.Status)
	}
}

func TestBuiltinTemplatesRegister(t *testing.T) {
	engine := NewEngine()
	if err := RegisterBuiltins(engine); err != nil {
		t.Fatalf("builtin templates must validate: %v", err)
	}
	summaries := engine.Templates()
	if len(summaries) != 5 {
		t.Fatalf("expected 5 builtin templates, got %d", len(summaries))
	}
	want := map[string]bool{
		"safe_swap":            false,
		"emergency_deleverage": false,
		"yield_hunt":           false,
		"cross_chain_arb":      false,
		"portfolio_rebalance":  false,
	}
	for _, s := range summaries {
		if _, ok := want[s.ID]; !ok {
			t.Fatalf("unexpected template %s", s.ID)
		}
		want[s.ID] = true
	}
	for id, seen := range want {
		if !seen {
			t.Fatalf("missing builtin template %s", id)
		}
	}
}

func TestBuiltinTemplatesExecuteSimulated(t *testing.T) {
	engine := NewEngine()
	if err := RegisterBuiltins(engine); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, tpl := range BuiltinTemplates() {
		result, err := engine.Execute(context.Background(), tpl.ID, "dry run", nil)
		if err != nil {
			t.Fatalf("template %s: %v", tpl.ID, err)
		}
		if result.Status != RunCompleted {
			t.Fatalf("template %s did not complete under simulation: %s", tpl.ID, result.Status)
		}
	}
}
