package signal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-works/covenant/pkg/constitution"
)

// ErrSchemaViolation marks signals rejected before entering the bus.
// Callers may retry with corrected input.
var ErrSchemaViolation = errors.New("signal schema violation")

// Factory is the schema-enforced signal constructor. It validates type,
// domain, and authority against the constitution's signal schema and stamps
// each signal with an id, timestamp, and content hash.
type Factory struct {
	validTypes       map[string]bool
	validDomains     map[string]bool
	validAuthorities map[string]bool
	requiredFields   []string
	clock            func() time.Time
}

// NewFactory builds a factory from a validated constitution.
func NewFactory(c *constitution.Constitution) (*Factory, error) {
	if !c.Validated() {
		return nil, constitution.ErrNotValidated
	}
	schema := c.SignalSchema()
	return &Factory{
		validTypes:       toSet(schema.ValidTypes),
		validDomains:     toSet(schema.ValidDomains),
		validAuthorities: toSet(schema.ValidAuthorities),
		requiredFields:   schema.RequiredFields,
		clock:            time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (f *Factory) WithClock(clock func() time.Time) *Factory {
	f.clock = clock
	return f
}

// Option sets an optional signal field at construction.
type Option func(*Signal)

// WithSource declares the originating component.
func WithSource(source string) Option {
	return func(s *Signal) { s.Source = source }
}

// WithCorrelationID links the signal to a prior exchange.
func WithCorrelationID(id string) Option {
	return func(s *Signal) { s.CorrelationID = id }
}

// Create constructs a validated signal. A schema violation is returned as
// an error wrapping ErrSchemaViolation; a signal that fails its own
// integrity self-check after construction is a kernel defect, not a caller
// error.
func (f *Factory) Create(sigType, domain, authority string, payload interface{}, opts ...Option) (*Signal, error) {
	if sigType == "" || !f.validTypes[sigType] {
		return nil, fmt.Errorf("%w: invalid type %q, valid: %v", ErrSchemaViolation, sigType, sorted(f.validTypes))
	}
	if domain == "" || !f.validDomains[domain] {
		return nil, fmt.Errorf("%w: invalid domain %q, valid: %v", ErrSchemaViolation, domain, sorted(f.validDomains))
	}
	if authority == "" || !f.validAuthorities[authority] {
		return nil, fmt.Errorf("%w: invalid authority %q, valid: %v", ErrSchemaViolation, authority, sorted(f.validAuthorities))
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload cannot be nil", ErrSchemaViolation)
	}

	sig := &Signal{
		ID:        uuid.New().String(),
		Type:      sigType,
		Domain:    domain,
		Authority: authority,
		Payload:   payload,
		Timestamp: f.clock(),
	}
	for _, opt := range opts {
		opt(sig)
	}

	hash, err := sig.computeHash()
	if err != nil {
		return nil, fmt.Errorf("signal hash failed: %w", err)
	}
	sig.Hash = hash

	if !sig.VerifyIntegrity() {
		return nil, errors.New("signal failed integrity check after creation")
	}
	return sig, nil
}

// Validate checks an existing signal against the schema and its own hash.
// The returned slice lists every problem found; empty means valid.
func (f *Factory) Validate(sig *Signal) []string {
	if sig == nil {
		return []string{"nil signal"}
	}
	var problems []string
	if !f.validTypes[sig.Type] {
		problems = append(problems, fmt.Sprintf("invalid type: %s", sig.Type))
	}
	if !f.validDomains[sig.Domain] {
		problems = append(problems, fmt.Sprintf("invalid domain: %s", sig.Domain))
	}
	if !f.validAuthorities[sig.Authority] {
		problems = append(problems, fmt.Sprintf("invalid authority: %s", sig.Authority))
	}
	for _, field := range f.requiredFields {
		if !fieldPresent(sig, field) {
			problems = append(problems, fmt.Sprintf("missing required field: %s", field))
		}
	}
	if !sig.VerifyIntegrity() {
		problems = append(problems, "hash integrity failure")
	}
	return problems
}

// fieldPresent reports whether a schema-required field is populated.
// Fields outside the core set are optional metadata and always pass.
func fieldPresent(sig *Signal, field string) bool {
	switch field {
	case "id":
		return sig.ID != ""
	case "type":
		return sig.Type != ""
	case "domain":
		return sig.Domain != ""
	case "authority":
		return sig.Authority != ""
	case "payload":
		return sig.Payload != nil
	case "timestamp":
		return !sig.Timestamp.IsZero()
	case "hash":
		return sig.Hash != ""
	default:
		return true
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
