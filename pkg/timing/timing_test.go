package timing

import (
	"errors"
	"testing"
	"time"

	"github.com/praxis-works/covenant/pkg/constitution"
)

func testConstitution(t *testing.T) *constitution.Constitution {
	t.Helper()
	c, err := constitution.Load("../../configs/constitution.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestMeasureWithinBudget(t *testing.T) {
	e, err := NewEnforcer(testConstitution(t))
	if err != nil {
		t.Fatal(err)
	}
	breach, err := e.Measure("router", "routing_ms", func() error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if breach != nil {
		t.Fatalf("no-op should stay in budget, got %+v", breach)
	}
	if e.BreachCount() != 0 {
		t.Fatal("no breach should be recorded")
	}
}

func TestMeasureRecordsBreach(t *testing.T) {
	e, err := NewEnforcer(testConstitution(t))
	if err != nil {
		t.Fatal(err)
	}
	// audit_write_ms budget is 20ms.
	breach, err := e.Measure("ledger", "audit_write_ms", func() error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if breach == nil {
		t.Fatal("expected breach")
	}
	if breach.Component != "ledger" || breach.ContractMs != 20 {
		t.Fatalf("unexpected breach: %+v", breach)
	}
	if breach.ActualMs <= breach.ContractMs {
		t.Fatalf("actual %.2fms should exceed contract %.0fms", breach.ActualMs, breach.ContractMs)
	}
	if e.BreachCount() != 1 {
		t.Fatalf("expected 1 recorded breach, got %d", e.BreachCount())
	}
}

func TestMeasurePassesThroughOpError(t *testing.T) {
	e, err := NewEnforcer(testConstitution(t))
	if err != nil {
		t.Fatal(err)
	}
	opErr := errors.New("handler failed")
	breach, err := e.Measure("router", "routing_ms", func() error { return opErr })
	if !errors.Is(err, opErr) {
		t.Fatalf("op error lost: %v", err)
	}
	if breach != nil {
		t.Fatalf("fast failure is not a breach: %+v", breach)
	}
}

func TestMeasureUnknownContract(t *testing.T) {
	e, err := NewEnforcer(testConstitution(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Measure("router", "nonexistent_ms", func() error { return nil }); err == nil {
		t.Fatal("expected unknown contract error")
	}
}

func TestWatchdogDetectsDeadComponent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w, err := NewWatchdog(testConstitution(t))
	if err != nil {
		t.Fatal(err)
	}
	w.WithClock(func() time.Time { return now })

	w.Register("router")
	w.Register("ledger")

	if dead := w.Check(); len(dead) != 0 {
		t.Fatalf("fresh components should be alive, got %v", dead)
	}

	// Advance past the 5000ms interval; only the ledger checks in.
	now = now.Add(6 * time.Second)
	if err := w.Heartbeat("ledger"); err != nil {
		t.Fatal(err)
	}

	dead := w.Check()
	if len(dead) != 1 || dead[0] != "router" {
		t.Fatalf("expected router dead, got %v", dead)
	}
	if w.AllAlive() {
		t.Fatal("AllAlive must be false with a dead component")
	}
	if w.States()["ledger"].Alive != true {
		t.Fatal("ledger should still be alive")
	}
}

func TestWatchdogHeartbeatRevives(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w, err := NewWatchdog(testConstitution(t))
	if err != nil {
		t.Fatal(err)
	}
	w.WithClock(func() time.Time { return now })
	w.Register("router")

	now = now.Add(10 * time.Second)
	if dead := w.Check(); len(dead) != 1 {
		t.Fatalf("expected router dead, got %v", dead)
	}

	if err := w.Heartbeat("router"); err != nil {
		t.Fatal(err)
	}
	if dead := w.Check(); len(dead) != 0 {
		t.Fatalf("heartbeat should revive, got %v", dead)
	}
	if !w.AllAlive() {
		t.Fatal("all components should be alive again")
	}
}

func TestWatchdogUnknownComponent(t *testing.T) {
	w, err := NewWatchdog(testConstitution(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Heartbeat("ghost"); err == nil {
		t.Fatal("expected unknown component error")
	}
}

func TestHaltControllerLifecycle(t *testing.T) {
	h := NewHaltController()
	if h.IsHalted() {
		t.Fatal("controller must start running")
	}

	h.Halt("routing ambiguity", "router")
	if !h.IsHalted() || h.Reason() != "routing ambiguity" {
		t.Fatalf("halt state wrong: %v %q", h.IsHalted(), h.Reason())
	}

	res := h.Resume(false)
	if res.Resumed {
		t.Fatal("resume must refuse with invalid ledger")
	}
	if !h.IsHalted() {
		t.Fatal("failed resume must leave system halted")
	}

	res = h.Resume(true)
	if !res.Resumed {
		t.Fatalf("resume with valid ledger should succeed: %+v", res)
	}
	if h.IsHalted() || h.Reason() != "" {
		t.Fatal("resumed controller must clear halt state")
	}
}

func TestHaltHistoryAccumulates(t *testing.T) {
	h := NewHaltController()
	h.Halt("first", "router")
	h.Resume(true)
	h.Halt("second", "watchdog")

	hist := h.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 halt events, got %d", len(hist))
	}
	if hist[0].Reason != "first" || hist[1].Source != "watchdog" {
		t.Fatalf("history wrong: %+v", hist)
	}
}
