package system

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// probe records start/stop order.
type probe struct {
	name     string
	trace    *trace
	startErr error
}

type trace struct {
	mu     sync.Mutex
	events []string
}

func (tr *trace) add(event string) {
	tr.mu.Lock()
	tr.events = append(tr.events, event)
	tr.mu.Unlock()
}

func (p *probe) Name() string { return p.name }

func (p *probe) Start(context.Context) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.trace.add("start:" + p.name)
	return nil
}

func (p *probe) Stop(context.Context) error {
	p.trace.add("stop:" + p.name)
	return nil
}

func TestStartOrderAndStopReversed(t *testing.T) {
	tr := &trace{}
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&probe{name: name, trace: tr}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(tr.events) != len(want) {
		t.Fatalf("events = %v, want %v", tr.events, want)
	}
	for i := range want {
		if tr.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", tr.events, want)
		}
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	tr := &trace{}
	m := NewManager()
	m.Register(&probe{name: "ok", trace: tr})
	m.Register(&probe{name: "bad", trace: tr, startErr: fmt.Errorf("boom")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("start succeeded despite failing service")
	}

	// The already-started service is stopped on rollback.
	want := []string{"start:ok", "stop:ok"}
	if len(tr.events) != 2 || tr.events[0] != want[0] || tr.events[1] != want[1] {
		t.Fatalf("events = %v, want %v", tr.events, want)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	tr := &trace{}
	m := NewManager()
	if err := m.Register(&probe{name: "a", trace: tr}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&probe{name: "a", trace: tr}); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestRegisterAfterStartRejected(t *testing.T) {
	tr := &trace{}
	m := NewManager()
	m.Register(&probe{name: "a", trace: tr})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())

	if err := m.Register(&probe{name: "late", trace: tr}); err == nil {
		t.Fatal("registration after start accepted")
	}
}

func TestStartAndStopIdempotent(t *testing.T) {
	tr := &trace{}
	m := NewManager()
	m.Register(&probe{name: "a", trace: tr})
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if len(tr.events) != 2 {
		t.Fatalf("events = %v, want one start and one stop", tr.events)
	}
}
