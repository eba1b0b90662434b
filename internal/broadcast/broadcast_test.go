package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *captureSink) Notify(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func TestAgentStatusShape(t *testing.T) {
	event := AgentStatus("risk_assessment", StatusWorking)
	if event.Type != "agent:status" {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.ID != "risk_assessment" || event.Status != "working" {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}

func TestFanoutDeliversPastFailingSink(t *testing.T) {
	broken := &captureSink{fail: true}
	healthy := &captureSink{}
	fanout := NewFanoutSink(broken, healthy)

	if err := fanout.Notify(context.Background(), AgentStatus("a", StatusComplete)); err != nil {
		t.Fatalf("fanout must swallow sink failures, got %v", err)
	}

	healthy.mu.Lock()
	defer healthy.mu.Unlock()
	if len(healthy.events) != 1 {
		t.Fatalf("expected healthy sink to receive the event, got %d", len(healthy.events))
	}
}

func TestEncodeWireFormat(t *testing.T) {
	payload, err := encode(AgentStatus("market_data", StatusWorking))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"type":"agent:status","id":"market_data","status":"working"}`
	if string(payload) != want {
		t.Fatalf("unexpected wire payload: %s", payload)
	}
}
