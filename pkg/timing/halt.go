package timing

import (
	"sync"
	"time"
)

// HaltEvent records one trigger of the halt controller.
type HaltEvent struct {
	Reason    string    `json:"reason"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ResumeResult reports a resume attempt.
type ResumeResult struct {
	Resumed   bool
	Reason    string
	Timestamp time.Time
}

// HaltController coordinates system-wide halts. Any subsystem may trigger
// a halt; resuming requires a valid audit ledger.
type HaltController struct {
	mu       sync.Mutex
	halted   bool
	reason   string
	haltTime time.Time
	history  []HaltEvent
	clock    func() time.Time
}

// NewHaltController creates a controller in the running state.
func NewHaltController() *HaltController {
	return &HaltController{clock: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (h *HaltController) WithClock(clock func() time.Time) *HaltController {
	h.clock = clock
	return h
}

// Halt stops the system and records who asked and why.
func (h *HaltController) Halt(reason, source string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.halted = true
	h.reason = reason
	h.haltTime = h.clock().UTC()
	h.history = append(h.history, HaltEvent{
		Reason:    reason,
		Source:    source,
		Timestamp: h.haltTime,
	})
}

// Resume lifts a halt. It refuses unless the caller attests the ledger
// verified; an invalid evidence spine keeps the system down.
func (h *HaltController) Resume(ledgerValid bool) ResumeResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !ledgerValid {
		return ResumeResult{
			Resumed: false,
			Reason:  "ledger validation failed, cannot resume",
		}
	}
	h.halted = false
	h.reason = ""
	return ResumeResult{Resumed: true, Timestamp: h.clock().UTC()}
}

// IsHalted reports the halt state.
func (h *HaltController) IsHalted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}

// Reason returns the current halt reason, empty when running.
func (h *HaltController) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// History returns a copy of every halt event since boot.
func (h *HaltController) History() []HaltEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HaltEvent, len(h.history))
	copy(out, h.history)
	return out
}
