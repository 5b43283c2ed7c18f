// Package archetype compiles governance archetypes (managerial, immutable,
// federated) into runtime configuration the router and legality gate
// consume. Compiled output is deterministic, and no archetype may relax a
// kernel invariant.
package archetype

import (
	"fmt"
	"sort"

	"github.com/praxis-works/covenant/pkg/constitution"
)

// quorumThreshold is the minimum number of agreeing parties for
// quorum-gated steward actions.
const quorumThreshold = 2

// LegalityOverride is an extra legality rule an archetype switches on.
type LegalityOverride struct {
	Rule     string `json:"rule"`
	Enforced bool   `json:"enforced"`
}

// Compiled is the runtime configuration an archetype compiles to.
type Compiled struct {
	Name              string                   `json:"name"`
	StewardMode       constitution.StewardMode `json:"steward_mode"`
	RoutingMutable    bool                     `json:"routing_mutable"`
	UpgradesEnabled   bool                     `json:"upgrades_enabled"`
	RoutingOverrides  map[string]interface{}   `json:"routing_overrides"`
	LegalityOverrides []LegalityOverride       `json:"legality_overrides"`
	Valid             bool                     `json:"valid"`
	Violations        []string                 `json:"violations,omitempty"`
}

// Configurator reads archetype definitions from the constitution and
// compiles them. Compiled output must be valid before activation.
type Configurator struct {
	c          *constitution.Constitution
	archetypes map[string]constitution.ArchetypeSpec
	grammar    constitution.RoutingGrammar
	levels     []string
}

// NewConfigurator builds a configurator from a validated constitution.
func NewConfigurator(c *constitution.Constitution) (*Configurator, error) {
	if !c.Validated() {
		return nil, constitution.ErrNotValidated
	}
	return &Configurator{
		c:          c,
		archetypes: c.Archetypes(),
		grammar:    c.RoutingGrammar(),
		levels:     c.AuthorityLevels(),
	}, nil
}

// Compile turns a named archetype into runtime configuration and checks
// it against the kernel invariants.
func (cf *Configurator) Compile(name string) (Compiled, error) {
	spec, ok := cf.archetypes[name]
	if !ok {
		return Compiled{}, fmt.Errorf("unknown archetype: %s", name)
	}

	mode := spec.StewardMode
	if mode == "" {
		mode = constitution.StewardActive
	}
	routingMutable := spec.RoutingTables == "mutable" || spec.RoutingTables == "quorum_mutable"
	upgradesEnabled := spec.UpgradePaths == "enabled" || spec.UpgradePaths == "quorum_gated"

	overrides := make(map[string]interface{})
	var legality []LegalityOverride

	if mode == constitution.StewardPassive {
		// Immutable governance: the steward observes, never actively
		// routes, and routing tables are frozen at runtime.
		overrides["steward_active_routing"] = false
		legality = append(legality, LegalityOverride{
			Rule:     "no_runtime_routing_modification",
			Enforced: true,
		})
	}
	if mode == constitution.StewardQuorum {
		overrides["steward_requires_quorum"] = true
		overrides["quorum_threshold"] = quorumThreshold
	}
	if !upgradesEnabled {
		legality = append(legality, LegalityOverride{
			Rule:     "no_upgrade_paths",
			Enforced: true,
		})
	}

	violations := cf.checkInvariants(mode)

	return Compiled{
		Name:              name,
		StewardMode:       mode,
		RoutingMutable:    routingMutable,
		UpgradesEnabled:   upgradesEnabled,
		RoutingOverrides:  overrides,
		LegalityOverrides: legality,
		Valid:             len(violations) == 0,
		Violations:        violations,
	}, nil
}

// checkInvariants ensures a compiled archetype cannot relax the kernel.
func (cf *Configurator) checkInvariants(mode constitution.StewardMode) []string {
	var violations []string
	if cf.grammar.DefaultOnAmbiguity != "halt" {
		violations = append(violations, "halt doctrine would be violated")
	}
	if len(cf.levels) != 3 {
		violations = append(violations, "authority ladder integrity violated")
	}
	if !mode.Known() {
		violations = append(violations, fmt.Sprintf("unknown steward mode: %s", mode))
	}
	return violations
}

// List returns every defined archetype name, sorted.
func (cf *Configurator) List() []string {
	out := make([]string, 0, len(cf.archetypes))
	for name := range cf.archetypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Spec returns the raw definition of a named archetype.
func (cf *Configurator) Spec(name string) (constitution.ArchetypeSpec, error) {
	spec, ok := cf.archetypes[name]
	if !ok {
		return constitution.ArchetypeSpec{}, fmt.Errorf("unknown archetype: %s", name)
	}
	return spec, nil
}
