package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/signal"
)

func testKernel(t *testing.T) (*constitution.Constitution, *signal.Factory, *Router) {
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
	r, err := NewRouter(c)
	if err != nil {
		t.Fatal(err)
	}
	return c, f, r
}

func ackHandler(tier string, jurisdiction []string) *AuthorityHandler {
	h := NewAuthorityHandler(tier, jurisdiction)
	h.SetHandler(func(ctx context.Context, sig *signal.Signal) (HandlerOutput, error) {
		return HandlerOutput{Outcome: "processed", Data: map[string]interface{}{"tier": tier}}, nil
	})
	return h
}

func registerAll(t *testing.T, r *Router) map[string]*AuthorityHandler {
	t.Helper()
	handlers := map[string]*AuthorityHandler{
		"operator":  ackHandler("operator", []string{"operational"}),
		"innovator": ackHandler("innovator", []string{"governance", "operational"}),
		"steward":   ackHandler("steward", []string{"constitutional", "emergency", "governance", "operational"}),
	}
	for tier, h := range handlers {
		if err := r.RegisterHandler(tier, h); err != nil {
			t.Fatal(err)
		}
	}
	return handlers
}

func TestRouteFirstMatchWins(t *testing.T) {
	_, f, r := testKernel(t)
	registerAll(t, r)

	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	d := r.Route(context.Background(), sig)
	if d.Action != ActionRouted {
		t.Fatalf("expected routed, got %s (%s)", d.Action, d.Reason)
	}
	if d.Target != "operator" {
		t.Fatalf("expected operator target, got %s", d.Target)
	}
	if !sig.Routed || !sig.Handled || sig.Outcome != "processed" {
		t.Fatalf("status flags not annotated: %+v", sig)
	}
}

func TestRouteAmbiguityHalts(t *testing.T) {
	// The canonical grammar covers every domain, so force ambiguity with a
	// narrower grammar whose rules leave governance unmatched.
	doc := []byte(`{
		"meta": {"name": "narrow"},
		"authority_ladder": {
			"levels": ["operator", "innovator", "steward"],
			"escalation_rules": {"handler_inactive": "innovator"},
			"invariants": ["ambiguity halts"]
		},
		"signal_schema": {
			"required_fields": ["id", "type", "domain", "authority", "payload", "timestamp", "hash"],
			"valid_types": ["query", "halt"],
			"valid_domains": ["operational", "governance"],
			"valid_authorities": ["operator", "system"]
		},
		"routing_grammar": {
			"rules": [{"condition": "domain == operational", "target": "operator"}],
			"default_on_ambiguity": "halt",
			"fallback_on_failure": "contain_and_log"
		},
		"legality_constraints": {"forbidden_states": ["untyped_signal_in_router"]},
		"failure_semantics": {"router_failure": {"action": "halt", "recovery": "manual"}},
		"timing_contracts": {"routing_ms": 50},
		"audit_requirements": {"format": "append_only", "integrity": "sha256_chain", "minimum_record": ["signal_type", "route", "handler", "outcome"]},
		"archetypes": {"immutable": {"steward_mode": "passive", "routing_tables": "frozen"}}
	}`)
	narrow, err := constitution.LoadBytes(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := narrow.Validate(); err != nil {
		t.Fatal(err)
	}
	nf, err := signal.NewFactory(narrow)
	if err != nil {
		t.Fatal(err)
	}
	nr, err := NewRouter(narrow)
	if err != nil {
		t.Fatal(err)
	}

	sig, err := nf.Create("query", "governance", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	d := nr.Route(context.Background(), sig)
	if d.Action != ActionHalt {
		t.Fatalf("expected ambiguity halt, got %s", d.Action)
	}
	if nr.Stats().Ambiguous != 1 {
		t.Fatalf("expected 1 ambiguous, got %d", nr.Stats().Ambiguous)
	}
}

func TestEscalationNeverSkipsATier(t *testing.T) {
	_, f, r := testKernel(t)
	handlers := registerAll(t, r)
	handlers["operator"].Deactivate()

	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	d := r.Route(context.Background(), sig)
	if d.Action != ActionEscalated {
		t.Fatalf("expected escalation, got %s (%s)", d.Action, d.Reason)
	}
	if d.Target != "innovator" {
		t.Fatalf("escalation skipped a tier: target %s, want innovator", d.Target)
	}
}

func TestEscalationExhaustedHalts(t *testing.T) {
	_, f, r := testKernel(t)
	handlers := registerAll(t, r)
	for _, h := range handlers {
		h.Deactivate()
	}

	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	d := r.Route(context.Background(), sig)
	if d.Action != ActionHalt {
		t.Fatalf("expected halt, got %s", d.Action)
	}
}

func TestHandlerErrorEscalates(t *testing.T) {
	_, f, r := testKernel(t)
	handlers := registerAll(t, r)
	handlers["operator"].SetHandler(func(ctx context.Context, sig *signal.Signal) (HandlerOutput, error) {
		return HandlerOutput{}, errors.New("operator backend down")
	})

	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	d := r.Route(context.Background(), sig)
	if d.Action != ActionEscalated || d.Target != "innovator" {
		t.Fatalf("expected escalation to innovator, got %s → %s", d.Action, d.Target)
	}
}

func TestHandlerPanicEscalates(t *testing.T) {
	_, f, r := testKernel(t)
	handlers := registerAll(t, r)
	handlers["operator"].SetHandler(func(ctx context.Context, sig *signal.Signal) (HandlerOutput, error) {
		panic("operator crashed")
	})

	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	d := r.Route(context.Background(), sig)
	if d.Action != ActionEscalated || d.Target != "innovator" {
		t.Fatalf("expected escalation to innovator, got %s → %s", d.Action, d.Target)
	}
}

func TestHaltSignalSetsSystemHalt(t *testing.T) {
	_, f, r := testKernel(t)
	registerAll(t, r)

	halt, err := f.Create("halt", "operational", "system", "stop")
	if err != nil {
		t.Fatal(err)
	}
	d := r.Route(context.Background(), halt)
	if d.Action != ActionSystemHalt {
		t.Fatalf("expected system_halt, got %s", d.Action)
	}
	if !r.IsHalted() {
		t.Fatal("router should be halted")
	}

	query, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	if d := r.Route(context.Background(), query); d.Action != ActionRejected {
		t.Fatalf("halted router should reject, got %s", d.Action)
	}
}

func TestRegisterHandlerTierMismatch(t *testing.T) {
	_, _, r := testKernel(t)
	if err := r.RegisterHandler("operator", NewAuthorityHandler("steward", nil)); err == nil {
		t.Fatal("expected tier mismatch error")
	}
}

func TestJurisdictionByAuthorityMatch(t *testing.T) {
	_, f, r := testKernel(t)
	// Steward handler with no domain jurisdiction still accepts signals
	// that explicitly declare steward authority.
	h := ackHandler("steward", nil)
	if err := r.RegisterHandler("steward", h); err != nil {
		t.Fatal(err)
	}

	sig, err := f.Create("proposal", "constitutional", "steward", "amendment")
	if err != nil {
		t.Fatal(err)
	}
	if !h.HasJurisdiction(sig) {
		t.Fatal("authority match should grant jurisdiction")
	}
	d := r.Route(context.Background(), sig)
	if d.Action != ActionRouted || d.Target != "steward" {
		t.Fatalf("expected steward routing, got %s → %s", d.Action, d.Target)
	}
}
