// Package constitution loads and validates the machine-readable policy
// document every other kernel component is governed by. The document is
// loaded once at boot, validated once, and immutable afterwards; every
// accessor returns an owned copy so no caller can mutate shared state.
package constitution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrNotValidated is returned by accessors that require a validated document.
var ErrNotValidated = errors.New("constitution not validated")

// ValidationError aggregates every violation found during validation,
// not just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("constitution invalid:")
	for _, v := range e.Violations {
		b.WriteString("\n  - ")
		b.WriteString(v)
	}
	return b.String()
}

// Constitution is the validated, immutable policy document.
type Constitution struct {
	raw       map[string]interface{}
	doc       *Document
	validated bool
	checks    []InvariantCheck
}

var (
	schemaOnce     sync.Once
	structuralOnce *jsonschema.Schema
	structuralErr  error
)

func structuralSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		const url = "https://covenant.schemas.local/constitution.schema.json"
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(url, strings.NewReader(documentSchema)); err != nil {
			structuralErr = fmt.Errorf("constitution schema load failed: %w", err)
			return
		}
		structuralOnce, structuralErr = c.Compile(url)
	})
	return structuralOnce, structuralErr
}

// Load reads a constitution document from disk. JSON is the canonical
// format; .yaml/.yml files are accepted and normalised to JSON first.
// A missing or malformed file is a boot failure.
func Load(path string) (*Constitution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boot failure: constitution not found at %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return loadYAML(data)
	default:
		return LoadBytes(data)
	}
}

// LoadBytes parses an in-memory constitution document. Documents starting
// with '{' are treated as JSON, anything else as YAML.
func LoadBytes(data []byte) (*Constitution, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] != '{' {
		return loadYAML(data)
	}
	return decode(data)
}

func loadYAML(data []byte) (*Constitution, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("boot failure: constitution is malformed YAML: %w", err)
	}
	normalised, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("boot failure: constitution could not be normalised: %w", err)
	}
	return decode(normalised)
}

func decode(data []byte) (*Constitution, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("boot failure: constitution is malformed JSON: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("boot failure: constitution does not match document shape: %w", err)
	}
	return &Constitution{raw: raw, doc: &doc}, nil
}

// Validate checks the document structure and every cross-reference:
// escalation targets resolve in the ladder, routing targets resolve,
// failure actions belong to the closed action set, timing contracts are
// positive, the audit section pins append-only sha256, and every archetype
// declares a steward mode and routing table. It fails with an aggregate
// error listing every violation found.
func (c *Constitution) Validate() error {
	var violations []string

	schema, err := structuralSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(interface{}(c.raw)); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for _, unit := range ve.BasicOutput().Errors {
				if unit.Error == "" || strings.HasPrefix(unit.Error, "doesn't validate with") {
					continue
				}
				loc := unit.InstanceLocation
				if loc == "" {
					loc = "/"
				}
				violations = append(violations, fmt.Sprintf("%s: %s", loc, unit.Error))
			}
		} else {
			violations = append(violations, err.Error())
		}
	}

	violations = append(violations, c.crossChecks()...)

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	c.validated = true
	return nil
}

func (c *Constitution) crossChecks() []string {
	var violations []string
	doc := c.doc

	ladder := doc.AuthorityLadder
	if len(ladder.Levels) == 0 {
		violations = append(violations, "authority ladder has no levels")
	}
	for condition, target := range ladder.EscalationRules {
		if !contains(ladder.Levels, target) {
			violations = append(violations, fmt.Sprintf(
				"escalation target %q (condition %q) not in authority levels", target, condition))
		}
	}
	if len(ladder.Invariants) == 0 {
		violations = append(violations, "authority ladder has no invariants defined")
	}

	schema := doc.SignalSchema
	if len(schema.RequiredFields) == 0 {
		violations = append(violations, "signal schema has no required fields")
	}
	if len(schema.ValidTypes) == 0 {
		violations = append(violations, "signal schema has no valid types")
	}
	if len(schema.ValidDomains) == 0 {
		violations = append(violations, "signal schema has no valid domains")
	}
	if len(schema.ValidAuthorities) == 0 {
		violations = append(violations, "signal schema has no valid authorities")
	}

	validTargets := make(map[string]bool, len(ladder.Levels)+1)
	for _, l := range ladder.Levels {
		validTargets[l] = true
	}
	validTargets[TargetSystem] = true
	for i, rule := range doc.RoutingGrammar.Rules {
		if rule.Condition == "" || rule.Target == "" {
			violations = append(violations, fmt.Sprintf("routing rule %d missing target or condition", i))
			continue
		}
		if !validTargets[rule.Target] {
			violations = append(violations, fmt.Sprintf("routing rule %d targets unknown authority: %s", i, rule.Target))
		}
	}
	if doc.RoutingGrammar.DefaultOnAmbiguity != "halt" {
		violations = append(violations, "halt doctrine violated: default_on_ambiguity must be \"halt\"")
	}

	for name, sem := range doc.FailureSemantics {
		if !sem.Action.Known() {
			violations = append(violations, fmt.Sprintf("failure semantic %q has unknown action: %s", name, sem.Action))
		}
		if sem.Recovery == "" {
			violations = append(violations, fmt.Sprintf("failure semantic %q has no recovery path defined", name))
		}
	}

	for name, budget := range doc.TimingContracts {
		if budget <= 0 {
			violations = append(violations, fmt.Sprintf("timing contract %q must be a positive number, got %v", name, budget))
		}
	}

	if doc.Audit.Format != "append_only" {
		violations = append(violations, "audit format must be \"append_only\"")
	}
	if !strings.Contains(doc.Audit.Integrity, "sha256") {
		violations = append(violations, "audit integrity must use sha256")
	}
	if len(doc.Audit.MinimumRecord) == 0 {
		violations = append(violations, "audit minimum_record not defined")
	}

	if len(doc.Archetypes) == 0 {
		violations = append(violations, "no archetypes defined")
	}
	for name, arch := range doc.Archetypes {
		if arch.StewardMode == "" {
			violations = append(violations, fmt.Sprintf("archetype %q missing steward_mode", name))
		}
		if arch.RoutingTables == "" {
			violations = append(violations, fmt.Sprintf("archetype %q missing routing_tables", name))
		}
	}

	return violations
}

// Validated reports whether Validate has completed successfully.
func (c *Constitution) Validated() bool { return c.validated }

// AuthorityLevels returns the ordered authority ladder levels.
func (c *Constitution) AuthorityLevels() []string {
	return cloneStrings(c.doc.AuthorityLadder.Levels)
}

// EscalationRules returns the condition → target escalation map.
func (c *Constitution) EscalationRules() map[string]string {
	out := make(map[string]string, len(c.doc.AuthorityLadder.EscalationRules))
	for k, v := range c.doc.AuthorityLadder.EscalationRules {
		out[k] = v
	}
	return out
}

// SignalSchema returns a copy of the signal vocabulary.
func (c *Constitution) SignalSchema() SignalSchema {
	s := c.doc.SignalSchema
	return SignalSchema{
		RequiredFields:   cloneStrings(s.RequiredFields),
		ValidTypes:       cloneStrings(s.ValidTypes),
		ValidDomains:     cloneStrings(s.ValidDomains),
		ValidAuthorities: cloneStrings(s.ValidAuthorities),
	}
}

// RoutingGrammar returns a copy of the routing rules and doctrine defaults.
func (c *Constitution) RoutingGrammar() RoutingGrammar {
	g := c.doc.RoutingGrammar
	rules := make([]RoutingRule, len(g.Rules))
	copy(rules, g.Rules)
	return RoutingGrammar{
		Rules:              rules,
		DefaultOnAmbiguity: g.DefaultOnAmbiguity,
		FallbackOnFailure:  g.FallbackOnFailure,
	}
}

// ForbiddenStates returns the named structurally illegal states.
func (c *Constitution) ForbiddenStates() []string {
	return cloneStrings(c.doc.Legality.ForbiddenStates)
}

// FailureResponse returns the constitutional response for a failure type.
// Unknown failure types always resolve to halt.
func (c *Constitution) FailureResponse(failureType string) FailureResponse {
	if resp, ok := c.doc.FailureSemantics[failureType]; ok {
		return resp
	}
	return FailureResponse{
		Action:   ActionHalt,
		Recovery: "unknown_failure_constitutional_review",
	}
}

// Timing returns the named latency budget in milliseconds.
func (c *Constitution) Timing(key string) (float64, error) {
	if !c.validated {
		return 0, ErrNotValidated
	}
	budget, ok := c.doc.TimingContracts[key]
	if !ok {
		return 0, fmt.Errorf("no timing contract for %q", key)
	}
	return budget, nil
}

// TimingContracts returns a copy of every named latency budget.
func (c *Constitution) TimingContracts() map[string]float64 {
	out := make(map[string]float64, len(c.doc.TimingContracts))
	for k, v := range c.doc.TimingContracts {
		out[k] = v
	}
	return out
}

// AuditRequirements returns a copy of the audit trail requirements.
func (c *Constitution) AuditRequirements() AuditRequirements {
	a := c.doc.Audit
	return AuditRequirements{
		Format:        a.Format,
		Integrity:     a.Integrity,
		MinimumRecord: cloneStrings(a.MinimumRecord),
	}
}

// Archetype returns the named archetype spec.
func (c *Constitution) Archetype(name string) (ArchetypeSpec, error) {
	if !c.validated {
		return ArchetypeSpec{}, ErrNotValidated
	}
	spec, ok := c.doc.Archetypes[name]
	if !ok {
		return ArchetypeSpec{}, fmt.Errorf("unknown archetype: %s", name)
	}
	return spec, nil
}

// Archetypes returns a copy of every archetype spec keyed by name.
func (c *Constitution) Archetypes() map[string]ArchetypeSpec {
	out := make(map[string]ArchetypeSpec, len(c.doc.Archetypes))
	for k, v := range c.doc.Archetypes {
		out[k] = v
	}
	return out
}

// Section returns a deep copy of a raw document section.
func (c *Constitution) Section(name string) (interface{}, error) {
	if !c.validated {
		return nil, ErrNotValidated
	}
	section, ok := c.raw[name]
	if !ok {
		return nil, fmt.Errorf("no such constitutional section: %s", name)
	}
	// JSON round-trip yields an owned copy with no shared references.
	data, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("section %s not copyable: %w", name, err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
