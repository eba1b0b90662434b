package agents

import (
	"context"
	"errors"
	"sync"
	"testing"

	"AgentFi-Mesh/internal/broadcast"
	"AgentFi-Mesh/internal/config"
	"AgentFi-Mesh/internal/knowledge"
	"AgentFi-Mesh/internal/nonce"
	"AgentFi-Mesh/internal/workflow"
)

type captureSink struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (s *captureSink) Notify(_ context.Context, event broadcast.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

type fakeCounter struct {
	latest  uint64
	pending uint64
}

func (f *fakeCounter) NonceAt(_ context.Context, _ string) (uint64, error) {
	return f.latest, nil
}

func (f *fakeCounter) PendingNonceAt(_ context.Context, _ string) (uint64, error) {
	return f.pending, nil
}

type fakeSource map[string]*fakeCounter

func (s fakeSource) Counter(chain string) (nonce.TransactionCounter, bool) {
	c, ok := s[chain]
	return c, ok
}

type fakeSubmitter struct {
	mu     sync.Mutex
	nonces []uint64
	fail   bool
}

func (f *fakeSubmitter) Submit(_ context.Context, _, _ string, n uint64, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("broadcast rejected")
	}
	f.nonces = append(f.nonces, n)
	return "0xabc", nil
}

const signer = "0x00000000000000000000000000000000000000aa"

func step(id, capability, action string) workflow.StepDef {
	return workflow.StepDef{ID: id, Name: id, Capability: capability, Action: action}
}

func TestInvokerEmitsWorkingThenComplete(t *testing.T) {
	sink := &captureSink{}
	inv := NewInvoker(WithSink(sink))

	if _, err := inv.ExecuteStep(context.Background(), step("market_data", "market_data", "fetch_price"), nil, map[string]any{"task": "t"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	if sink.events[0].Status != broadcast.StatusWorking || sink.events[1].Status != broadcast.StatusComplete {
		t.Fatalf("wrong event order: %+v", sink.events)
	}
	for _, e := range sink.events {
		if e.Type != broadcast.EventTypeAgentStatus || e.ID != "market_data" {
			t.Fatalf("malformed event: %+v", e)
		}
	}
}

func TestInvokerEmitsCompleteOnHandlerError(t *testing.T) {
	sink := &captureSink{}
	inv := NewInvoker(WithSink(sink))
	inv.Register("broken", HandlerFunc(func(context.Context, workflow.StepDef, map[string]any) (*workflow.AgentResult, error) {
		return nil, errors.New("handler exploded")
	}))

	_, err := inv.ExecuteStep(context.Background(), step("x", "broken", "act"), nil, nil)
	if err == nil {
		t.Fatal("expected handler error to surface")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 || sink.events[1].Status != broadcast.StatusComplete {
		t.Fatalf("complete event must fire even on failure: %+v", sink.events)
	}
}

func TestInvokerFallsBackForUnknownCapability(t *testing.T) {
	inv := NewInvoker(WithSink(&captureSink{}))
	result, err := inv.ExecuteStep(context.Background(), step("y", "never_registered", "act"), nil, map[string]any{"task": "t"})
	if err != nil {
		t.Fatalf("fallback should handle unknown capability: %v", err)
	}
	if result == nil || !result.Success {
		t.Fatalf("fallback result should succeed: %+v", result)
	}
}

func TestExecutionHandlerConfirmsNonceOnSuccess(t *testing.T) {
	counter := &fakeCounter{latest: 5, pending: 5}
	m := nonce.NewManager(fakeSource{"base": counter})
	submitter := &fakeSubmitter{}
	h := NewExecutionHandler(m, submitter, "base", signer)

	result, err := h.Handle(context.Background(), step("execution", "execution", "execute_swap"), map[string]any{"task": "swap"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success: %+v", result)
	}
	if result.Data["nonce"] != uint64(5) {
		t.Fatalf("expected nonce 5 in result, got %v", result.Data["nonce"])
	}

	snap := m.State("base", signer)
	if snap.Confirmed != 6 {
		t.Fatalf("nonce should be confirmed after broadcast, got %+v", snap)
	}
	if len(snap.InFlight) != 0 {
		t.Fatalf("in-flight set should be empty: %v", snap.InFlight)
	}
}

func TestExecutionHandlerReleasesNonceOnFailure(t *testing.T) {
	counter := &fakeCounter{latest: 5, pending: 5}
	m := nonce.NewManager(fakeSource{"base": counter})
	submitter := &fakeSubmitter{fail: true}
	h := NewExecutionHandler(m, submitter, "base", signer)

	if _, err := h.Handle(context.Background(), step("execution", "execution", "execute_swap"), nil); err == nil {
		t.Fatal("expected submit failure to surface")
	}

	snap := m.State("base", signer)
	if snap.Pending != snap.Confirmed {
		t.Fatalf("released nonce must rewind pending: %+v", snap)
	}
	if len(snap.InFlight) != 0 {
		t.Fatalf("in-flight set should be empty after release: %v", snap.InFlight)
	}
	// 下一次分配必须复用刚释放的槽位。
	next := m.NextNonce(context.Background(), "base", signer)
	if next != 5 {
		t.Fatalf("expected reissued nonce 5, got %d", next)
	}
}

func TestResearchHandlerFallsBackWithoutModel(t *testing.T) {
	provider := knowledge.NewStaticProvider([]knowledge.Card{
		{Title: "Aave 清算阈值", Protocol: "aave", Content: "健康因子低于 1 即可被清算。", Keywords: []string{"liquidation"}},
	}, 3)
	h := NewResearchHandler(config.LLMConfig{Enabled: false}, provider)

	result, err := h.Handle(context.Background(), step("research", "research", "protocol_due_diligence"), map[string]any{"task": "prepare for liquidation"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Success {
		t.Fatalf("fallback must succeed: %+v", result)
	}
	sources, ok := result.Data["sources"].([]string)
	if !ok || len(sources) != 1 {
		t.Fatalf("expected one knowledge source, got %v", result.Data["sources"])
	}
}

func TestInvokerDrivesWorkflowEndToEnd(t *testing.T) {
	counter := &fakeCounter{latest: 0, pending: 0}
	m := nonce.NewManager(fakeSource{"base": counter})
	submitter := &fakeSubmitter{}
	sink := &captureSink{}

	inv := NewInvoker(WithSink(sink))
	inv.Register("execution", NewExecutionHandler(m, submitter, "base", signer))

	engine := workflow.NewEngine(workflow.WithExecutor(inv))
	if err := workflow.RegisterBuiltins(engine); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := engine.Execute(context.Background(), "safe_swap", "swap 1 ETH to USDC", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != workflow.RunCompleted {
		t.Fatalf("expected completed run, got %s (failed=%v)", result.Status, result.FailedSteps)
	}

	submitter.mu.Lock()
	submitted := len(submitter.nonces)
	submitter.mu.Unlock()
	if submitted != 1 {
		t.Fatalf("safe_swap should broadcast exactly one transaction, got %d", submitted)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	// 每个步骤恰好两条事件。
	if len(sink.events) != 10 {
		t.Fatalf("expected 10 status events for 5 steps, got %d", len(sink.events))
	}
}
