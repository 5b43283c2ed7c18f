// Package routing implements the deterministic hierarchical router. Rules
// are priority-ordered and first match wins; no match halts the system
// rather than guessing; a failing or unavailable handler escalates one tier
// at a time up the authority ladder, and an exhausted ladder halts.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/signal"
)

// Action is the closed set of routing outcomes.
type Action string

const (
	ActionRouted          Action = "routed"
	ActionEscalated       Action = "escalated"
	ActionHalt            Action = "halt"
	ActionSystemHalt      Action = "system_halt"
	ActionSystemProcessed Action = "system_processed"
	ActionRejected        Action = "rejected"
)

// Decision is the immutable record of one routing attempt. It is produced
// once per signal and is the unit the engine writes to the audit ledger.
type Decision struct {
	SignalID      string         `json:"signal_id"`
	SignalType    string         `json:"signal_type"`
	SignalDomain  string         `json:"signal_domain"`
	Action        Action         `json:"action"`
	Target        string         `json:"target,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	HandlerResult *HandlerResult `json:"handler_result,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Stats counts router activity.
type Stats struct {
	Routed    int `json:"routed"`
	Escalated int `json:"escalated"`
	Halted    int `json:"halted"`
	Ambiguous int `json:"ambiguous"`
}

type compiledRule struct {
	raw    string
	target string
	prog   cel.Program
}

// Router routes signals to the lowest competent authority tier.
type Router struct {
	mu         sync.Mutex
	rules      []compiledRule
	ladder     []string
	handlers   map[string]*AuthorityHandler
	halted     bool
	haltReason string
	stats      Stats
	clock      func() time.Time
}

// NewRouter compiles the constitution's routing grammar. A rule whose
// condition cannot be parsed or compiled is a boot error.
func NewRouter(c *constitution.Constitution) (*Router, error) {
	if !c.Validated() {
		return nil, constitution.ErrNotValidated
	}
	env, err := newConditionEnv()
	if err != nil {
		return nil, err
	}

	grammar := c.RoutingGrammar()
	rules := make([]compiledRule, 0, len(grammar.Rules))
	for i, rule := range grammar.Rules {
		prog, err := compileCondition(env, rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("routing rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{raw: rule.Condition, target: rule.Target, prog: prog})
	}

	return &Router{
		rules:    rules,
		ladder:   c.AuthorityLevels(),
		handlers: make(map[string]*AuthorityHandler),
		clock:    time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (r *Router) WithClock(clock func() time.Time) *Router {
	r.clock = clock
	return r
}

// RegisterHandler binds a handler to an authority tier. The tier must match
// the handler's own declared tier.
func (r *Router) RegisterHandler(tier string, h *AuthorityHandler) error {
	if h == nil {
		return fmt.Errorf("nil handler for tier %s", tier)
	}
	if h.Tier() != tier {
		return fmt.Errorf("handler tier mismatch: registered as %q, handler says %q", tier, h.Tier())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tier] = h
	return nil
}

// Route routes one signal. Routing-grammar rules are evaluated in declared
// order and the first match wins; no match is an ambiguity halt; a halt
// signal matched to the system sentinel sets the router's halt flag;
// otherwise the matched tier's handler runs, escalating tier by tier on
// failure until the ladder is exhausted.
func (r *Router) Route(ctx context.Context, sig *signal.Signal) *Decision {
	if r.IsHalted() {
		return r.decision(sig, ActionRejected, "", "router is halted", nil)
	}

	var matched *compiledRule
	for i := range r.rules {
		if evalCondition(r.rules[i].prog, sig) {
			matched = &r.rules[i]
			break
		}
	}

	if matched == nil {
		r.bump(func(s *Stats) { s.Ambiguous++; s.Halted++ })
		return r.decision(sig, ActionHalt, "", "no routing rule matched: ambiguity halt", nil)
	}

	if matched.target == constitution.TargetSystem {
		return r.handleSystem(sig)
	}

	h := r.Handler(matched.target)
	if h == nil {
		r.bump(func(s *Stats) { s.Halted++ })
		return r.decision(sig, ActionHalt, "", fmt.Sprintf("no handler registered for %s", matched.target), nil)
	}
	if !h.IsActive() {
		return r.escalate(ctx, sig, matched.target, "handler inactive")
	}
	if !h.HasJurisdiction(sig) {
		return r.escalate(ctx, sig, matched.target, "jurisdiction mismatch")
	}

	sig.Routed = true
	result, err := h.Process(ctx, sig)
	if err != nil {
		return r.escalate(ctx, sig, matched.target, err.Error())
	}
	sig.Handled = true
	sig.Outcome = result.Outcome
	r.bump(func(s *Stats) { s.Routed++ })
	return r.decision(sig, ActionRouted, matched.target, "", result)
}

// escalate walks the ladder strictly one tier at a time above from,
// attempting each active handler in order. Exhaustion halts.
func (r *Router) escalate(ctx context.Context, sig *signal.Signal, from, reason string) *Decision {
	fromIdx := -1
	for i, tier := range r.ladder {
		if tier == from {
			fromIdx = i
			break
		}
	}

	for i := fromIdx + 1; i < len(r.ladder); i++ {
		next := r.ladder[i]
		h := r.Handler(next)
		if h == nil || !h.IsActive() {
			continue
		}
		sig.Routed = true
		result, err := h.Process(ctx, sig)
		if err != nil {
			continue
		}
		sig.Handled = true
		sig.Outcome = result.Outcome
		r.bump(func(s *Stats) { s.Escalated++ })
		return r.decision(sig, ActionEscalated, next,
			fmt.Sprintf("escalated from %s: %s", from, reason), result)
	}

	r.bump(func(s *Stats) { s.Halted++ })
	return r.decision(sig, ActionHalt, "",
		fmt.Sprintf("escalation exhausted from %s: %s", from, reason), nil)
}

func (r *Router) handleSystem(sig *signal.Signal) *Decision {
	if sig.Type == signal.TypeHalt {
		r.mu.Lock()
		r.halted = true
		r.haltReason = "halt signal received"
		r.stats.Halted++
		r.mu.Unlock()
		return r.decision(sig, ActionSystemHalt, constitution.TargetSystem, "halt signal received", nil)
	}
	return r.decision(sig, ActionSystemProcessed, constitution.TargetSystem, "", nil)
}

func (r *Router) decision(sig *signal.Signal, action Action, target, reason string, result *HandlerResult) *Decision {
	return &Decision{
		SignalID:      sig.ID,
		SignalType:    sig.Type,
		SignalDomain:  sig.Domain,
		Action:        action,
		Target:        target,
		Reason:        reason,
		HandlerResult: result,
		Timestamp:     r.clock(),
	}
}

// Handler returns the registered handler for a tier, nil if none.
func (r *Router) Handler(tier string) *AuthorityHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[tier]
}

func (r *Router) bump(fn func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

// Halt stops the router; subsequent signals are rejected.
func (r *Router) Halt(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted = true
	r.haltReason = reason
}

// Resume reopens routing.
func (r *Router) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted = false
	r.haltReason = ""
}

// IsHalted reports whether the router is rejecting signals.
func (r *Router) IsHalted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// Stats returns a snapshot of routing counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
