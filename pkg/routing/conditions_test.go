package routing

import (
	"strings"
	"testing"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/signal"
)

func TestTranslateCondition(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"type == halt", `signal.type == "halt"`},
		{"domain != emergency", `signal.domain != "emergency"`},
		{"type == query AND domain == operational", `signal.type == "query" && signal.domain == "operational"`},
	}
	for _, tc := range cases {
		got, err := translateCondition(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTranslateConditionRejectsUnknownField(t *testing.T) {
	if _, err := translateCondition("priority == high"); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTranslateConditionRejectsMalformedClause(t *testing.T) {
	for _, in := range []string{"", "type = halt", "type ==", "type > halt"} {
		if _, err := translateCondition(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestCompileAndEvalCondition(t *testing.T) {
	env, err := newConditionEnv()
	if err != nil {
		t.Fatal(err)
	}
	prog, err := compileCondition(env, "type == halt AND domain == emergency")
	if err != nil {
		t.Fatal(err)
	}
	if !evalCondition(prog, &signal.Signal{Type: "halt", Domain: "emergency", Authority: "system"}) {
		t.Fatal("expected match")
	}
	if evalCondition(prog, &signal.Signal{Type: "halt", Domain: "operational", Authority: "system"}) {
		t.Fatal("expected no match")
	}
}

func TestEvalConditionEmptySourceIsFalse(t *testing.T) {
	env, err := newConditionEnv()
	if err != nil {
		t.Fatal(err)
	}
	prog, err := compileCondition(env, "source == scheduler")
	if err != nil {
		t.Fatal(err)
	}
	if evalCondition(prog, &signal.Signal{Type: "query", Domain: "operational", Authority: "operator"}) {
		t.Fatal("unset source must evaluate false, not panic")
	}
}

func TestRouterRejectsUncompilableGrammar(t *testing.T) {
	bad := `{
		"meta": {"name": "bad"},
		"authority_ladder": {
			"levels": ["operator", "innovator", "steward"],
			"escalation_rules": {"handler_inactive": "innovator"},
			"invariants": ["ambiguity halts"]
		},
		"signal_schema": {
			"required_fields": ["id", "type", "domain", "authority", "payload", "timestamp", "hash"],
			"valid_types": ["query", "halt"],
			"valid_domains": ["operational"],
			"valid_authorities": ["operator", "system"]
		},
		"routing_grammar": {
			"rules": [{"condition": "severity >= critical", "target": "operator"}],
			"default_on_ambiguity": "halt",
			"fallback_on_failure": "contain_and_log"
		},
		"legality_constraints": {"forbidden_states": ["untyped_signal_in_router"]},
		"failure_semantics": {"router_failure": {"action": "halt", "recovery": "manual"}},
		"timing_contracts": {"routing_ms": 50},
		"audit_requirements": {"format": "append_only", "integrity": "sha256_chain", "minimum_record": ["signal_type", "route", "handler", "outcome"]},
		"archetypes": {"immutable": {"steward_mode": "passive", "routing_tables": "frozen"}}
	}`
	// The structural schema accepts the document; the condition grammar is
	// only checked when the router compiles the rules at boot.
	doc, err := constitution.LoadBytes([]byte(bad))
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRouter(doc); err == nil {
		t.Fatal("expected rule compile error at boot")
	} else if !strings.Contains(err.Error(), "severity") {
		t.Fatalf("error should name the bad condition: %v", err)
	}
}
