// Package legality implements the pre-routing legality gate. Signals must
// pass every constitutional constraint before they reach the router; any
// violation terminates the signal and emits a containment event. No illegal
// state exists downstream of this gate.
package legality

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/signal"
)

// Violation names the rule a signal broke and why.
type Violation struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// ContainmentEvent records a terminated signal. Every termination produces
// exactly one event, appended to the gate's containment log.
type ContainmentEvent struct {
	ID           string      `json:"id"`
	SignalID     string      `json:"signal_id"`
	SignalType   string      `json:"signal_type"`
	SignalDomain string      `json:"signal_domain"`
	Violations   []Violation `json:"violations"`
	Action       string      `json:"action"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Result is the outcome of a gate check.
type Result struct {
	Legal       bool
	Signal      *signal.Signal
	Violations  []Violation
	Containment *ContainmentEvent
}

// Stats counts gate activity.
type Stats struct {
	Checked    int
	Passed     int
	Terminated int
}

// Context carries the runtime circumstances a signal is checked under.
// The zero value describes a signal arriving through the router on a
// running system.
type Context struct {
	SourceAuthority string
	TargetAuthority string
	ViaRouter       bool
	SystemHalted    bool
	StewardOverride bool
	DualKey         bool
}

// RuleFunc is a domain-specific legality rule. It reports whether the
// signal is legal and, when it is not, why.
type RuleFunc func(sig *signal.Signal, ctx Context) (bool, string)

type customRule struct {
	name string
	fn   RuleFunc
}

// Gate validates signals against the constitution's legality constraints.
// Rule evaluation is conservative: an error or panic inside a rule counts
// as a violation, never as a pass.
type Gate struct {
	mu        sync.Mutex
	factory   *signal.Factory
	forbidden map[string]bool
	rules     []customRule
	log       []ContainmentEvent
	stats     Stats
	clock     func() time.Time
}

// NewGate builds a gate from a validated constitution.
func NewGate(c *constitution.Constitution, factory *signal.Factory) (*Gate, error) {
	if !c.Validated() {
		return nil, constitution.ErrNotValidated
	}
	states := c.ForbiddenStates()
	forbidden := make(map[string]bool, len(states))
	for _, s := range states {
		forbidden[s] = true
	}
	return &Gate{
		factory:   factory,
		forbidden: forbidden,
		clock:     time.Now,
	}, nil
}

// WithClock overrides the gate's time source. Intended for tests.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// AddRule registers a domain-specific legality rule. Rules run in
// registration order after the structural checks.
func (g *Gate) AddRule(name string, fn RuleFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, customRule{name: name, fn: fn})
}

// Check runs the signal through every legality constraint. Any violation
// terminates the signal and appends a containment event to the log.
func (g *Gate) Check(sig *signal.Signal, ctx Context) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stats.Checked++
	var violations []Violation

	if problems := g.factory.Validate(sig); len(problems) > 0 {
		violations = append(violations, Violation{
			Rule:   "schema_validation",
			Reason: joinProblems(problems),
		})
	}

	if !sig.VerifyIntegrity() {
		violations = append(violations, Violation{
			Rule:   "integrity_verification",
			Reason: "hash mismatch, possible tampering",
		})
	}

	violations = g.checkForbidden(sig, ctx, violations)

	for _, rule := range g.rules {
		legal, reason := runRule(rule.fn, sig, ctx)
		if !legal {
			if reason == "" {
				reason = "custom rule violation"
			}
			violations = append(violations, Violation{Rule: rule.name, Reason: reason})
		}
	}

	if len(violations) > 0 {
		g.stats.Terminated++
		event := ContainmentEvent{
			ID:           uuid.NewString(),
			SignalID:     sig.ID,
			SignalType:   sig.Type,
			SignalDomain: sig.Domain,
			Violations:   violations,
			Action:       "terminated",
			Timestamp:    g.clock().UTC(),
		}
		g.log = append(g.log, event)
		return Result{Legal: false, Violations: violations, Containment: &event}
	}

	g.stats.Passed++
	return Result{Legal: true, Signal: sig}
}

func (g *Gate) checkForbidden(sig *signal.Signal, ctx Context, violations []Violation) []Violation {
	if sig.Type == "" && g.forbidden["untyped_signal_in_router"] {
		violations = append(violations, Violation{
			Rule:   "untyped_signal_in_router",
			Reason: "signal has no type",
		})
	}

	if ctx.SourceAuthority != "" && ctx.TargetAuthority != "" &&
		ctx.SourceAuthority != ctx.TargetAuthority && !ctx.ViaRouter &&
		g.forbidden["cross_authority_direct_call"] {
		violations = append(violations, Violation{
			Rule: "cross_authority_direct_call",
			Reason: fmt.Sprintf("direct call from %s to %s must use the router",
				ctx.SourceAuthority, ctx.TargetAuthority),
		})
	}

	if ctx.SystemHalted && sig.Type != signal.TypeHalt &&
		g.forbidden["execution_after_halt_signal"] {
		violations = append(violations, Violation{
			Rule:   "execution_after_halt_signal",
			Reason: "system halted, only halt signals may pass",
		})
	}

	if sig.Type == signal.TypeEscalation && sig.Source == "" &&
		g.forbidden["silent_authority_escalation"] {
		violations = append(violations, Violation{
			Rule:   "silent_authority_escalation",
			Reason: "escalation without declared source",
		})
	}

	if ctx.StewardOverride && !ctx.DualKey &&
		g.forbidden["steward_override_without_dual_key"] {
		violations = append(violations, Violation{
			Rule:   "steward_override_without_dual_key",
			Reason: "steward override requires dual-key authorisation",
		})
	}

	return violations
}

// runRule evaluates a custom rule, converting panics into violations.
func runRule(fn RuleFunc, sig *signal.Signal, ctx Context) (legal bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			legal = false
			reason = fmt.Sprintf("rule evaluation panic: %v", r)
		}
	}()
	return fn(sig, ctx)
}

// ContainmentLog returns a copy of every containment event emitted so far.
func (g *Gate) ContainmentLog() []ContainmentEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ContainmentEvent, len(g.log))
	copy(out, g.log)
	return out
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func joinProblems(problems []string) string {
	out := problems[0]
	for _, p := range problems[1:] {
		out += "; " + p
	}
	return out
}
