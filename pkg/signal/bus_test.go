package signal

import (
	"testing"
)

func mustCreate(t *testing.T, f *Factory, typ, domain, authority string) *Signal {
	t.Helper()
	sig, err := f.Create(typ, domain, authority, "payload")
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func TestBusClassification(t *testing.T) {
	f := testFactory(t)
	b := NewBus(f)

	cases := []struct {
		typ, domain string
		want        Channel
	}{
		{"halt", "operational", ChannelHalt},
		{"escalation", "governance", ChannelEscalation},
		{"query", "emergency", ChannelEscalation},
		{"query", "operational", ChannelNormal},
	}
	for _, tc := range cases {
		authority := "operator"
		if tc.typ == "halt" {
			authority = "system"
		}
		res := b.Submit(mustCreate(t, f, tc.typ, tc.domain, authority))
		if !res.Accepted {
			t.Fatalf("submit rejected: %s", res.Reason)
		}
		if res.Channel != tc.want {
			t.Fatalf("signal (%s, %s) classified as %s, want %s", tc.typ, tc.domain, res.Channel, tc.want)
		}
	}
}

func TestBusRejectsTamperedSignal(t *testing.T) {
	f := testFactory(t)
	b := NewBus(f)

	sig := mustCreate(t, f, "query", "operational", "operator")
	sig.Payload = "tampered"

	res := b.Submit(sig)
	if res.Accepted {
		t.Fatal("bus accepted a tampered signal")
	}
	if b.Stats().Rejected != 1 {
		t.Fatalf("expected 1 rejection, got %d", b.Stats().Rejected)
	}
}

func TestDrainAllPriorityOrder(t *testing.T) {
	f := testFactory(t)
	b := NewBus(f)

	first := mustCreate(t, f, "query", "operational", "operator")
	second := mustCreate(t, f, "query", "operational", "operator")
	esc := mustCreate(t, f, "escalation", "governance", "innovator")
	halt := mustCreate(t, f, "halt", "operational", "system")

	// Arrival order deliberately inverts priority.
	for _, sig := range []*Signal{first, second, esc, halt} {
		if res := b.Submit(sig); !res.Accepted {
			t.Fatalf("submit rejected: %s", res.Reason)
		}
	}

	drained := b.DrainAll()
	wantIDs := []string{halt.ID, esc.ID, first.ID, second.ID}
	if len(drained) != len(wantIDs) {
		t.Fatalf("expected %d signals, got %d", len(wantIDs), len(drained))
	}
	for i, sig := range drained {
		if sig.ID != wantIDs[i] {
			t.Fatalf("position %d: got %s (%s), want %s", i, sig.ID, sig.Type, wantIDs[i])
		}
	}

	if total := b.Pending()[ChannelNormal] + b.Pending()[ChannelEscalation] + b.Pending()[ChannelHalt]; total != 0 {
		t.Fatalf("expected empty bus after drain, %d pending", total)
	}
}

func TestHaltedBusAcceptsOnlyHaltSignals(t *testing.T) {
	f := testFactory(t)
	b := NewBus(f)

	b.Halt("watchdog trip")
	if !b.IsHalted() {
		t.Fatal("bus should be halted")
	}
	if b.HaltReason() != "watchdog trip" {
		t.Fatalf("unexpected halt reason: %q", b.HaltReason())
	}

	if res := b.Submit(mustCreate(t, f, "query", "operational", "operator")); res.Accepted {
		t.Fatal("halted bus accepted a normal signal")
	}
	if res := b.Submit(mustCreate(t, f, "halt", "operational", "system")); !res.Accepted {
		t.Fatalf("halted bus rejected a halt signal: %s", res.Reason)
	}

	b.Resume()
	if res := b.Submit(mustCreate(t, f, "query", "operational", "operator")); !res.Accepted {
		t.Fatalf("resumed bus rejected a valid signal: %s", res.Reason)
	}
}

func TestDrainUnknownChannel(t *testing.T) {
	f := testFactory(t)
	b := NewBus(f)
	if _, err := b.Drain(Channel("sideband")); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
