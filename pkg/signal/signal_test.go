package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/praxis-works/covenant/pkg/constitution"
)

func testFactory(t *testing.T) *Factory {
	t.Helper()
	c, err := constitution.Load("../../configs/constitution.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	f, err := NewFactory(c)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestCreateValidSignal(t *testing.T) {
	f := testFactory(t)
	sig, err := f.Create("query", "operational", "operator", map[string]interface{}{"q": "status"})
	if err != nil {
		t.Fatal(err)
	}
	if sig.ID == "" || sig.Hash == "" || sig.Timestamp.IsZero() {
		t.Fatalf("signal missing stamped fields: %+v", sig)
	}
	if !sig.VerifyIntegrity() {
		t.Fatal("fresh signal failed integrity check")
	}
}

func TestCreateRejectsInvalidSchema(t *testing.T) {
	f := testFactory(t)
	cases := []struct {
		name                   string
		typ, domain, authority string
		payload                interface{}
	}{
		{"bad type", "teleport", "operational", "operator", "p"},
		{"bad domain", "query", "underworld", "operator", "p"},
		{"bad authority", "query", "operational", "emperor", "p"},
		{"nil payload", "query", "operational", "operator", nil},
		{"empty type", "", "operational", "operator", "p"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Create(tc.typ, tc.domain, tc.authority, tc.payload)
			if !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("expected schema violation, got %v", err)
			}
		})
	}
}

func TestMutationBreaksIntegrity(t *testing.T) {
	f := testFactory(t)

	mutations := map[string]func(*Signal){
		"type":      func(s *Signal) { s.Type = "command" },
		"domain":    func(s *Signal) { s.Domain = "governance" },
		"authority": func(s *Signal) { s.Authority = "steward" },
		"payload":   func(s *Signal) { s.Payload = "swapped" },
		"timestamp": func(s *Signal) { s.Timestamp = s.Timestamp.Add(1) },
	}
	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			sig, err := f.Create("query", "operational", "operator", "payload")
			if err != nil {
				t.Fatal(err)
			}
			mutate(sig)
			if sig.VerifyIntegrity() {
				t.Fatalf("mutation of %s went undetected", field)
			}
		})
	}
}

func TestStatusFlagsDoNotAffectHash(t *testing.T) {
	f := testFactory(t)
	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	sig.Routed = true
	sig.Handled = true
	sig.Outcome = "processed"
	if !sig.VerifyIntegrity() {
		t.Fatal("status annotation broke the content hash")
	}
}

func TestCreateWithOptions(t *testing.T) {
	f := testFactory(t)
	sig, err := f.Create("escalation", "governance", "innovator", "payload",
		WithSource("watcher"), WithCorrelationID("corr-7"))
	if err != nil {
		t.Fatal(err)
	}
	if sig.Source != "watcher" || sig.CorrelationID != "corr-7" {
		t.Fatalf("options not applied: %+v", sig)
	}
	if !sig.VerifyIntegrity() {
		t.Fatal("optional fields broke integrity")
	}
}

func TestValidateChecksRequiredFields(t *testing.T) {
	f := testFactory(t)

	cleared := map[string]func(*Signal){
		"id":        func(s *Signal) { s.ID = "" },
		"payload":   func(s *Signal) { s.Payload = nil },
		"timestamp": func(s *Signal) { s.Timestamp = time.Time{} },
		"hash":      func(s *Signal) { s.Hash = "" },
	}
	for field, clear := range cleared {
		t.Run(field, func(t *testing.T) {
			sig, err := f.Create("query", "operational", "operator", "payload")
			if err != nil {
				t.Fatal(err)
			}
			clear(sig)
			want := "missing required field: " + field
			for _, p := range f.Validate(sig) {
				if p == want {
					return
				}
			}
			t.Fatalf("expected %q, got %v", want, f.Validate(sig))
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	f := testFactory(t)
	sig, err := f.Create("query", "operational", "operator", "payload")
	if err != nil {
		t.Fatal(err)
	}
	sig.Type = "forged"
	sig.Domain = "forged"

	problems := f.Validate(sig)
	if len(problems) < 3 {
		t.Fatalf("expected type, domain, and integrity problems, got %v", problems)
	}
}
