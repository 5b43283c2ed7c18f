// Package timing enforces the constitution's latency contracts, runs the
// subsystem watchdog, and coordinates system halts.
package timing

import (
	"fmt"
	"sync"
	"time"

	"github.com/praxis-works/covenant/pkg/constitution"
)

// Breach records one timing contract violation.
type Breach struct {
	Component  string    `json:"component"`
	ContractMs float64   `json:"contract_ms"`
	ActualMs   float64   `json:"actual_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Enforcer measures operations against the constitutional timing budgets.
type Enforcer struct {
	mu        sync.Mutex
	contracts map[string]float64
	breaches  []Breach
	clock     func() time.Time
}

// NewEnforcer builds an enforcer from a validated constitution.
func NewEnforcer(c *constitution.Constitution) (*Enforcer, error) {
	if !c.Validated() {
		return nil, constitution.ErrNotValidated
	}
	return &Enforcer{
		contracts: c.TimingContracts(),
		clock:     time.Now,
	}, nil
}

// WithClock overrides the wall clock used for breach timestamps. The
// elapsed measurement itself always uses the monotonic clock.
func (e *Enforcer) WithClock(clock func() time.Time) *Enforcer {
	e.clock = clock
	return e
}

// Measure runs op and checks its duration against the named contract.
// A non-nil Breach means the budget was exceeded; op's error passes
// through untouched either way.
func (e *Enforcer) Measure(component, contractKey string, op func() error) (*Breach, error) {
	e.mu.Lock()
	budget, ok := e.contracts[contractKey]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no timing contract: %s", contractKey)
	}

	start := time.Now()
	opErr := op()
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if elapsed > budget {
		breach := Breach{
			Component:  component,
			ContractMs: budget,
			ActualMs:   elapsed,
			Timestamp:  e.clock().UTC(),
		}
		e.mu.Lock()
		e.breaches = append(e.breaches, breach)
		e.mu.Unlock()
		return &breach, opErr
	}
	return nil, opErr
}

// Breaches returns a copy of all recorded breaches.
func (e *Enforcer) Breaches() []Breach {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Breach, len(e.breaches))
	copy(out, e.breaches)
	return out
}

// BreachCount returns the number of recorded breaches.
func (e *Enforcer) BreachCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.breaches)
}
