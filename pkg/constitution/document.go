package constitution

// Tier identifies one authority level on the ladder.
type Tier string

const (
	TierOperator  Tier = "operator"
	TierInnovator Tier = "innovator"
	TierSteward   Tier = "steward"
)

// TargetSystem is the routing target sentinel for signals the kernel
// interprets directly rather than dispatching to an authority handler.
const TargetSystem = "system"

// FailureAction is the constitutional response to a component failure.
type FailureAction string

const (
	ActionHalt               FailureAction = "halt"
	ActionEscalate           FailureAction = "escalate"
	ActionEscalateAndContain FailureAction = "escalate_and_contain"
)

// Known reports whether the action is one of the closed set of responses.
func (a FailureAction) Known() bool {
	switch a {
	case ActionHalt, ActionEscalate, ActionEscalateAndContain:
		return true
	}
	return false
}

// StewardMode controls how actively the steward tier participates in routing.
type StewardMode string

const (
	StewardActive  StewardMode = "active"
	StewardPassive StewardMode = "passive"
	StewardQuorum  StewardMode = "quorum"
)

// Known reports whether the mode is one of the three recognised modes.
func (m StewardMode) Known() bool {
	switch m {
	case StewardActive, StewardPassive, StewardQuorum:
		return true
	}
	return false
}

// AuthorityLadder declares the ordered authority levels, the escalation
// rules between them, and the named invariants the ladder guarantees.
type AuthorityLadder struct {
	Levels          []string          `json:"levels" yaml:"levels"`
	EscalationRules map[string]string `json:"escalation_rules" yaml:"escalation_rules"`
	Invariants      []string          `json:"invariants" yaml:"invariants"`
}

// SignalSchema enumerates the valid signal vocabulary.
type SignalSchema struct {
	RequiredFields   []string `json:"required_fields" yaml:"required_fields"`
	ValidTypes       []string `json:"valid_types" yaml:"valid_types"`
	ValidDomains     []string `json:"valid_domains" yaml:"valid_domains"`
	ValidAuthorities []string `json:"valid_authorities" yaml:"valid_authorities"`
}

// RoutingRule is a single condition → target rule. Conditions use the
// constitutional condition grammar ("field == value", "field != value",
// clauses joined with AND) and are compiled once at boot.
type RoutingRule struct {
	Condition string `json:"condition" yaml:"condition"`
	Target    string `json:"target" yaml:"target"`
}

// RoutingGrammar is the ordered rule set plus the two doctrine defaults.
type RoutingGrammar struct {
	Rules              []RoutingRule `json:"rules" yaml:"rules"`
	DefaultOnAmbiguity string        `json:"default_on_ambiguity" yaml:"default_on_ambiguity"`
	FallbackOnFailure  string        `json:"fallback_on_failure" yaml:"fallback_on_failure"`
}

// LegalityConstraints names the structurally forbidden states.
type LegalityConstraints struct {
	ForbiddenStates []string `json:"forbidden_states" yaml:"forbidden_states"`
}

// FailureResponse maps a failure type to its constitutional action.
type FailureResponse struct {
	Action   FailureAction `json:"action" yaml:"action"`
	Recovery string        `json:"recovery" yaml:"recovery"`
}

// AuditRequirements pins the audit trail format and integrity scheme.
type AuditRequirements struct {
	Format        string   `json:"format" yaml:"format"`
	Integrity     string   `json:"integrity" yaml:"integrity"`
	MinimumRecord []string `json:"minimum_record" yaml:"minimum_record"`
}

// ArchetypeSpec is a named governance mode declaration.
type ArchetypeSpec struct {
	StewardMode   StewardMode `json:"steward_mode" yaml:"steward_mode"`
	RoutingTables string      `json:"routing_tables" yaml:"routing_tables"`
	UpgradePaths  string      `json:"upgrade_paths" yaml:"upgrade_paths"`
	Description   string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// Document is the structured form of a constitution file.
type Document struct {
	Meta             map[string]interface{}     `json:"meta" yaml:"meta"`
	AuthorityLadder  AuthorityLadder            `json:"authority_ladder" yaml:"authority_ladder"`
	SignalSchema     SignalSchema               `json:"signal_schema" yaml:"signal_schema"`
	RoutingGrammar   RoutingGrammar             `json:"routing_grammar" yaml:"routing_grammar"`
	Legality         LegalityConstraints        `json:"legality_constraints" yaml:"legality_constraints"`
	FailureSemantics map[string]FailureResponse `json:"failure_semantics" yaml:"failure_semantics"`
	TimingContracts  map[string]float64         `json:"timing_contracts" yaml:"timing_contracts"`
	Audit            AuditRequirements          `json:"audit_requirements" yaml:"audit_requirements"`
	Archetypes       map[string]ArchetypeSpec   `json:"archetypes" yaml:"archetypes"`
}
