package constitution

import (
	"errors"
	"fmt"
	"strings"
)

// InvariantCheck is a named boolean check over the validated constitution.
// A nil return is a pass; an error carries the failure reason.
type InvariantCheck struct {
	Name  string
	Check func(c *Constitution) error
}

// InvariantResult is the outcome of one invariant check.
type InvariantResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Report summarises an invariant suite run.
type Report struct {
	Passed  int               `json:"passed"`
	Failed  int               `json:"failed"`
	Results []InvariantResult `json:"results"`
}

// Total returns the number of checks run.
func (r *Report) Total() int { return r.Passed + r.Failed }

// AllPassed reports whether every check passed.
func (r *Report) AllPassed() bool { return r.Failed == 0 }

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invariant checks: %d/%d passed", r.Passed, r.Total())
	for _, res := range r.Results {
		if res.Passed {
			fmt.Fprintf(&b, "\n  [PASS] %s", res.Name)
		} else {
			fmt.Fprintf(&b, "\n  [FAIL: %s] %s", res.Reason, res.Name)
		}
	}
	return b.String()
}

// RegisterInvariant adds a named check to the suite run before boot completes.
func (c *Constitution) RegisterInvariant(name string, check func(*Constitution) error) {
	c.checks = append(c.checks, InvariantCheck{Name: name, Check: check})
}

// RunInvariantChecks executes every registered check and returns the report.
// A panicking check counts as a failure, never as a crash.
func (c *Constitution) RunInvariantChecks() (*Report, error) {
	if !c.validated {
		return nil, ErrNotValidated
	}
	report := &Report{}
	for _, check := range c.checks {
		result := runOne(c, check)
		report.Results = append(report.Results, result)
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

func runOne(c *Constitution, check InvariantCheck) (result InvariantResult) {
	result = InvariantResult{Name: check.Name, Passed: true}
	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Reason = fmt.Sprintf("check panicked: %v", r)
		}
	}()
	if err := check.Check(c); err != nil {
		result.Passed = false
		result.Reason = err.Error()
	}
	return result
}

// RegisterBuiltinChecks registers the non-negotiable kernel invariants.
// Any failure here prevents the engine from completing boot.
func RegisterBuiltinChecks(c *Constitution) {
	c.RegisterInvariant("halt_doctrine_enforced", func(c *Constitution) error {
		if c.RoutingGrammar().DefaultOnAmbiguity != "halt" {
			return errors.New("default_on_ambiguity is not halt")
		}
		return nil
	})

	c.RegisterInvariant("authority_ladder_has_three_levels", func(c *Constitution) error {
		if n := len(c.AuthorityLevels()); n != 3 {
			return fmt.Errorf("ladder has %d levels", n)
		}
		return nil
	})

	c.RegisterInvariant("authority_order_is_operator_innovator_steward", func(c *Constitution) error {
		levels := c.AuthorityLevels()
		want := []string{string(TierOperator), string(TierInnovator), string(TierSteward)}
		if len(levels) != len(want) {
			return fmt.Errorf("ladder is %v", levels)
		}
		for i := range want {
			if levels[i] != want[i] {
				return fmt.Errorf("ladder is %v", levels)
			}
		}
		return nil
	})

	c.RegisterInvariant("audit_is_append_only", func(c *Constitution) error {
		if c.AuditRequirements().Format != "append_only" {
			return fmt.Errorf("audit format is %q", c.AuditRequirements().Format)
		}
		return nil
	})

	c.RegisterInvariant("audit_uses_sha256", func(c *Constitution) error {
		if !strings.Contains(c.AuditRequirements().Integrity, "sha256") {
			return fmt.Errorf("audit integrity is %q", c.AuditRequirements().Integrity)
		}
		return nil
	})

	c.RegisterInvariant("forbidden_states_declared", func(c *Constitution) error {
		if len(c.ForbiddenStates()) == 0 {
			return errors.New("no forbidden states declared")
		}
		return nil
	})

	c.RegisterInvariant("every_escalation_targets_valid_authority", func(c *Constitution) error {
		levels := c.AuthorityLevels()
		for condition, target := range c.EscalationRules() {
			if !contains(levels, target) {
				return fmt.Errorf("condition %q escalates to unknown level %q", condition, target)
			}
		}
		return nil
	})

	c.RegisterInvariant("every_routing_rule_has_target_and_condition", func(c *Constitution) error {
		for i, rule := range c.RoutingGrammar().Rules {
			if rule.Condition == "" || rule.Target == "" {
				return fmt.Errorf("rule %d incomplete", i)
			}
		}
		return nil
	})

	c.RegisterInvariant("every_routing_target_resolves", func(c *Constitution) error {
		levels := c.AuthorityLevels()
		for i, rule := range c.RoutingGrammar().Rules {
			if rule.Target != TargetSystem && !contains(levels, rule.Target) {
				return fmt.Errorf("rule %d targets unknown authority %q", i, rule.Target)
			}
		}
		return nil
	})

	c.RegisterInvariant("all_timing_contracts_positive", func(c *Constitution) error {
		for name, budget := range c.TimingContracts() {
			if budget <= 0 {
				return fmt.Errorf("contract %q is %v", name, budget)
			}
		}
		return nil
	})

	c.RegisterInvariant("router_failure_halts", requireHalt("router_failure"))
	c.RegisterInvariant("audit_failure_halts", requireHalt("audit_failure"))
	c.RegisterInvariant("authority_breach_halts", requireHalt("authority_breach"))

	c.RegisterInvariant("unknown_failure_defaults_to_halt", func(c *Constitution) error {
		if action := c.FailureResponse("nonexistent_xyz").Action; action != ActionHalt {
			return fmt.Errorf("unknown failure resolves to %q", action)
		}
		return nil
	})

	c.RegisterInvariant("at_least_one_archetype_defined", func(c *Constitution) error {
		if len(c.Archetypes()) == 0 {
			return errors.New("no archetypes defined")
		}
		return nil
	})

	c.RegisterInvariant("all_archetypes_have_steward_mode", func(c *Constitution) error {
		for name, spec := range c.Archetypes() {
			if spec.StewardMode == "" {
				return fmt.Errorf("archetype %q has no steward mode", name)
			}
		}
		return nil
	})

	c.RegisterInvariant("fallback_on_failure_is_contain", func(c *Constitution) error {
		if fb := c.RoutingGrammar().FallbackOnFailure; fb != "contain_and_log" {
			return fmt.Errorf("fallback_on_failure is %q", fb)
		}
		return nil
	})
}

func requireHalt(failureType string) func(*Constitution) error {
	return func(c *Constitution) error {
		if action := c.FailureResponse(failureType).Action; action != ActionHalt {
			return fmt.Errorf("%s resolves to %q, want halt", failureType, action)
		}
		return nil
	}
}
