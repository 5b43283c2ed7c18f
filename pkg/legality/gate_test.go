package legality

import (
	"strings"
	"testing"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/signal"
)

func testGate(t *testing.T) (*signal.Factory, *Gate) {
	t.Helper()
	c, err := constitution.Load("../../configs/constitution.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	f, err := signal.NewFactory(c)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGate(c, f)
	if err != nil {
		t.Fatal(err)
	}
	return f, g
}

func TestLegalSignalPasses(t *testing.T) {
	f, g := testGate(t)
	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	res := g.Check(sig, Context{ViaRouter: true})
	if !res.Legal {
		t.Fatalf("expected legal, got violations %v", res.Violations)
	}
	if res.Containment != nil {
		t.Fatal("legal signal must not produce a containment event")
	}
	if s := g.Stats(); s.Checked != 1 || s.Passed != 1 || s.Terminated != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestTamperedSignalTerminated(t *testing.T) {
	f, g := testGate(t)
	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	sig.Payload = "tampered"

	res := g.Check(sig, Context{ViaRouter: true})
	if res.Legal {
		t.Fatal("tampered signal must be terminated")
	}
	if res.Containment == nil || res.Containment.SignalID != sig.ID {
		t.Fatalf("containment event missing or wrong: %+v", res.Containment)
	}
	found := false
	for _, v := range res.Violations {
		if v.Rule == "integrity_verification" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected integrity violation, got %v", res.Violations)
	}
}

func TestForbiddenStates(t *testing.T) {
	f, g := testGate(t)

	cases := []struct {
		name string
		sig  func(t *testing.T) *signal.Signal
		ctx  Context
		rule string
	}{
		{
			name: "cross authority direct call",
			sig:  mkQuery(f),
			ctx:  Context{SourceAuthority: "operator", TargetAuthority: "steward"},
			rule: "cross_authority_direct_call",
		},
		{
			name: "execution after halt",
			sig:  mkQuery(f),
			ctx:  Context{ViaRouter: true, SystemHalted: true},
			rule: "execution_after_halt_signal",
		},
		{
			name: "silent escalation",
			sig: func(t *testing.T) *signal.Signal {
				s, err := f.Create("escalation", "governance", "innovator", "review")
				if err != nil {
					t.Fatal(err)
				}
				return s
			},
			ctx:  Context{ViaRouter: true},
			rule: "silent_authority_escalation",
		},
		{
			name: "steward override without dual key",
			sig:  mkQuery(f),
			ctx:  Context{ViaRouter: true, StewardOverride: true},
			rule: "steward_override_without_dual_key",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := g.Check(tc.sig(t), tc.ctx)
			if res.Legal {
				t.Fatal("expected termination")
			}
			if !hasRule(res.Violations, tc.rule) {
				t.Fatalf("expected %s violation, got %v", tc.rule, res.Violations)
			}
		})
	}
}

func TestHaltSignalPassesDuringHalt(t *testing.T) {
	f, g := testGate(t)
	sig, err := f.Create("halt", "emergency", "system", "stop")
	if err != nil {
		t.Fatal(err)
	}
	res := g.Check(sig, Context{ViaRouter: true, SystemHalted: true})
	if !res.Legal {
		t.Fatalf("halt signal must pass during a halt, got %v", res.Violations)
	}
}

func TestEscalationWithSourcePasses(t *testing.T) {
	f, g := testGate(t)
	sig, err := f.Create("escalation", "governance", "innovator", "review",
		signal.WithSource("operator"))
	if err != nil {
		t.Fatal(err)
	}
	res := g.Check(sig, Context{ViaRouter: true})
	if !res.Legal {
		t.Fatalf("sourced escalation must pass, got %v", res.Violations)
	}
}

func TestCustomRuleViolation(t *testing.T) {
	f, g := testGate(t)
	g.AddRule("no_heartbeats", func(sig *signal.Signal, ctx Context) (bool, string) {
		if sig.Type == "heartbeat" {
			return false, "heartbeats not accepted here"
		}
		return true, ""
	})

	hb, err := f.Create("heartbeat", "operational", "operator", "ping")
	if err != nil {
		t.Fatal(err)
	}
	if res := g.Check(hb, Context{ViaRouter: true}); res.Legal {
		t.Fatal("custom rule should terminate heartbeat")
	}

	q, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	if res := g.Check(q, Context{ViaRouter: true}); !res.Legal {
		t.Fatalf("query should pass, got %v", res.Violations)
	}
}

func TestPanickingRuleIsConservative(t *testing.T) {
	f, g := testGate(t)
	g.AddRule("broken", func(sig *signal.Signal, ctx Context) (bool, string) {
		panic("rule bug")
	})

	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	res := g.Check(sig, Context{ViaRouter: true})
	if res.Legal {
		t.Fatal("panicking rule must count as violation")
	}
	if !hasRule(res.Violations, "broken") {
		t.Fatalf("expected broken rule violation, got %v", res.Violations)
	}
	if !strings.Contains(res.Violations[0].Reason, "panic") {
		t.Fatalf("reason should mention the panic: %v", res.Violations)
	}
}

func TestCELRule(t *testing.T) {
	f, g := testGate(t)
	if err := g.AddCELRule("commands_need_router", `signal.type != "command" || ctx.via_router`); err != nil {
		t.Fatal(err)
	}

	cmd, err := f.Create("command", "operational", "operator", "do")
	if err != nil {
		t.Fatal(err)
	}
	if res := g.Check(cmd, Context{}); res.Legal {
		t.Fatal("command outside router should be terminated")
	}
	if res := g.Check(cmd, Context{ViaRouter: true}); !res.Legal {
		t.Fatalf("command via router should pass, got %v", res.Violations)
	}
}

func TestCELRuleRejectsBadExpression(t *testing.T) {
	_, g := testGate(t)
	if err := g.AddCELRule("bad", `signal.type +`); err == nil {
		t.Fatal("expected compile error")
	}
	if err := g.AddCELRule("not_bool", `signal.type`); err == nil {
		t.Fatal("expected non-bool rejection")
	}
}

func TestContainmentLogAccumulates(t *testing.T) {
	f, g := testGate(t)
	for i := 0; i < 3; i++ {
		sig, err := f.Create("query", "operational", "operator", "payload")
		if err != nil {
			t.Fatal(err)
		}
		sig.Payload = "tampered"
		g.Check(sig, Context{ViaRouter: true})
	}
	log := g.ContainmentLog()
	if len(log) != 3 {
		t.Fatalf("expected 3 containment events, got %d", len(log))
	}
	seen := map[string]bool{}
	for _, e := range log {
		if e.ID == "" || seen[e.ID] {
			t.Fatalf("containment events need unique ids: %+v", log)
		}
		seen[e.ID] = true
		if e.Action != "terminated" {
			t.Fatalf("unexpected action %q", e.Action)
		}
	}
	if s := g.Stats(); s.Terminated != 3 {
		t.Fatalf("expected 3 terminations, got %+v", s)
	}
}

func mkQuery(f *signal.Factory) func(t *testing.T) *signal.Signal {
	return func(t *testing.T) *signal.Signal {
		s, err := f.Create("query", "operational", "operator", "payload")
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
}

func hasRule(violations []Violation, rule string) bool {
	for _, v := range violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}
