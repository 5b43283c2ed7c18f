// Package failure encodes the constitutional failure matrix: every failure
// type maps to a defined response, and unknown failures default to halt.
package failure

import (
	"fmt"
	"sync"
	"time"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/timing"
)

// Event describes what the matrix did about one component failure.
type Event struct {
	Component   string                     `json:"component"`
	FailureType string                     `json:"failure_type"`
	Action      constitution.FailureAction `json:"action"`
	Recovery    string                     `json:"recovery"`
	Details     string                     `json:"details,omitempty"`
	Timestamp   time.Time                  `json:"timestamp"`
}

// Matrix dispatches failures to their constitutional response. Halt-class
// failures trip the halt controller directly; escalate-class failures are
// returned to the caller, which owns routing the escalation signal.
type Matrix struct {
	mu    sync.Mutex
	c     *constitution.Constitution
	halt  *timing.HaltController
	log   []Event
	clock func() time.Time
}

// NewMatrix builds a matrix from a validated constitution.
func NewMatrix(c *constitution.Constitution, halt *timing.HaltController) (*Matrix, error) {
	if !c.Validated() {
		return nil, constitution.ErrNotValidated
	}
	return &Matrix{c: c, halt: halt, clock: time.Now}, nil
}

// WithClock overrides the time source. Intended for tests.
func (m *Matrix) WithClock(clock func() time.Time) *Matrix {
	m.clock = clock
	return m
}

// HandleFailure applies the constitutional response for failureType and
// returns the event describing what was done.
func (m *Matrix) HandleFailure(component, failureType, details string) Event {
	resp := m.c.FailureResponse(failureType)

	event := Event{
		Component:   component,
		FailureType: failureType,
		Action:      resp.Action,
		Recovery:    resp.Recovery,
		Details:     details,
		Timestamp:   m.clock().UTC(),
	}

	m.mu.Lock()
	m.log = append(m.log, event)
	m.mu.Unlock()

	switch resp.Action {
	case constitution.ActionHalt:
		m.halt.Halt(fmt.Sprintf("%s in %s: %s", failureType, component, details), component)
	case constitution.ActionEscalate:
		// Escalation travels through the router as a signal.
	case constitution.ActionEscalateAndContain:
		// Containment is recorded by the caller alongside the escalation.
	default:
		// FailureResponse never returns an unknown action, but the halt
		// doctrine governs if it ever does.
		m.halt.Halt(fmt.Sprintf("unknown failure action %q for %s in %s", resp.Action, failureType, component), component)
	}

	return event
}

// EventLog returns a copy of every failure event.
func (m *Matrix) EventLog() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.log))
	copy(out, m.log)
	return out
}

// EventCount returns the number of recorded failure events.
func (m *Matrix) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}
