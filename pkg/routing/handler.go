package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/praxis-works/covenant/pkg/signal"
)

// HandlerOutput is what a processing function reports back.
type HandlerOutput struct {
	Outcome string
	Data    map[string]interface{}
}

// HandlerFunc processes one in-jurisdiction signal. A returned error (or a
// panic, which is recovered) makes the router escalate to the next tier.
type HandlerFunc func(ctx context.Context, sig *signal.Signal) (HandlerOutput, error)

// HandlerResult records one completed handler invocation.
type HandlerResult struct {
	Handler   string                 `json:"handler"`
	SignalID  string                 `json:"signal_id"`
	Outcome   string                 `json:"outcome"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AuthorityHandler is an isolated execution context bound to one authority
// tier. It knows its jurisdiction and refuses signals outside it.
type AuthorityHandler struct {
	mu           sync.Mutex
	tier         string
	jurisdiction map[string]bool
	active       bool
	processed    int
	fn           HandlerFunc
	clock        func() time.Time
}

// NewAuthorityHandler creates an active handler for one tier with the given
// domain jurisdiction.
func NewAuthorityHandler(tier string, jurisdiction []string) *AuthorityHandler {
	set := make(map[string]bool, len(jurisdiction))
	for _, d := range jurisdiction {
		set[d] = true
	}
	return &AuthorityHandler{
		tier:         tier,
		jurisdiction: set,
		active:       true,
		clock:        time.Now,
	}
}

// SetHandler installs the processing function.
func (h *AuthorityHandler) SetHandler(fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
}

// Tier returns the authority tier this handler is bound to.
func (h *AuthorityHandler) Tier() string { return h.tier }

// HasJurisdiction reports whether the signal's domain is in the handler's
// jurisdiction, or the signal explicitly targets this tier's authority.
func (h *AuthorityHandler) HasJurisdiction(sig *signal.Signal) bool {
	return h.jurisdiction[sig.Domain] || sig.Authority == h.tier
}

// Process runs the signal through the handler function. It returns an error
// on an inactive handler, a jurisdiction violation, a missing function, or
// a failing function; the router treats any of these as an escalation
// trigger.
func (h *AuthorityHandler) Process(ctx context.Context, sig *signal.Signal) (result *HandlerResult, err error) {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return nil, fmt.Errorf("handler %s is not active", h.tier)
	}
	if !h.HasJurisdiction(sig) {
		h.mu.Unlock()
		return nil, fmt.Errorf("handler %s has no jurisdiction over domain=%q authority=%q",
			h.tier, sig.Domain, sig.Authority)
	}
	fn := h.fn
	if fn == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("handler %s has no processing function", h.tier)
	}
	h.processed++
	h.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler %s panicked: %v", h.tier, r)
		}
	}()

	output, err := fn(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("handler %s failed: %w", h.tier, err)
	}
	outcome := output.Outcome
	if outcome == "" {
		outcome = "processed"
	}
	return &HandlerResult{
		Handler:   h.tier,
		SignalID:  sig.ID,
		Outcome:   outcome,
		Data:      output.Data,
		Timestamp: h.clock(),
	}, nil
}

// Activate marks the handler as able to process signals.
func (h *AuthorityHandler) Activate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = true
}

// Deactivate takes the handler out of rotation; the router escalates past it.
func (h *AuthorityHandler) Deactivate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = false
}

// IsActive reports whether the handler is in rotation.
func (h *AuthorityHandler) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// ProcessedCount returns the number of signals this handler has accepted.
func (h *AuthorityHandler) ProcessedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processed
}
