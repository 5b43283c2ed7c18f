// Package extension is the compliance gate for kernel bolt-ons.
// Extensions observe and suggest; they can never override a kernel
// invariant, and only compliant extensions activate.
package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/signal"
)

// Handler is the extension entry point, invoked with signals the
// extension observes.
type Handler func(ctx context.Context, sig *signal.Signal) error

// Manifest declares what an extension needs and provides.
type Manifest struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	Author            string   `json:"author"`
	Description       string   `json:"description"`
	RequiresAuthority string   `json:"requires_authority"`
	ReadsFrom         []string `json:"reads_from,omitempty"`
	WritesTo          []string `json:"writes_to,omitempty"`
	ModifiesRouting   bool     `json:"modifies_routing"`
	ModifiesLegality  bool     `json:"modifies_legality"`
}

// ComplianceResult reports an extension's standing against the kernel
// invariants.
type ComplianceResult struct {
	Extension  string   `json:"extension"`
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations,omitempty"`
}

type registration struct {
	manifest   Manifest
	handler    Handler
	compliance ComplianceResult
}

// Registry registers extensions and gates their activation on compliance.
type Registry struct {
	mu          sync.Mutex
	authorities map[string]bool
	registered  map[string]registration
	activated   map[string]bool
}

// NewRegistry builds a registry from a validated constitution.
func NewRegistry(c *constitution.Constitution) (*Registry, error) {
	if !c.Validated() {
		return nil, constitution.ErrNotValidated
	}
	schema := c.SignalSchema()
	authorities := make(map[string]bool, len(schema.ValidAuthorities))
	for _, a := range schema.ValidAuthorities {
		authorities[a] = true
	}
	return &Registry{
		authorities: authorities,
		registered:  make(map[string]registration),
		activated:   make(map[string]bool),
	}, nil
}

// Register stores an extension and checks it against the kernel
// invariants. Non-compliant extensions stay registered but can never
// activate.
func (r *Registry) Register(manifest Manifest, handler Handler) ComplianceResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var violations []string

	if !r.authorities[manifest.RequiresAuthority] {
		violations = append(violations,
			fmt.Sprintf("unknown authority level: %s", manifest.RequiresAuthority))
	}

	// Routing changes at steward level belong to the archetype
	// configurator, not to extensions.
	if manifest.RequiresAuthority == "steward" && manifest.ModifiesRouting {
		violations = append(violations,
			"extensions cannot modify routing at steward level")
	}

	for _, target := range manifest.WritesTo {
		switch target {
		case "default_on_ambiguity":
			violations = append(violations, "cannot modify halt doctrine")
		case "authority_ladder":
			violations = append(violations, "cannot modify authority ladder")
		case "audit_requirements":
			violations = append(violations, "cannot modify audit requirements")
		}
	}

	result := ComplianceResult{
		Extension:  manifest.Name,
		Compliant:  len(violations) == 0,
		Violations: violations,
	}
	r.registered[manifest.Name] = registration{
		manifest:   manifest,
		handler:    handler,
		compliance: result,
	}
	return result
}

// Activate enables a registered, compliant extension.
func (r *Registry) Activate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.registered[name]
	if !ok {
		return fmt.Errorf("extension not registered: %s", name)
	}
	if !entry.compliance.Compliant {
		return fmt.Errorf("extension %q is not compliant: %v",
			name, entry.compliance.Violations)
	}
	r.activated[name] = true
	return nil
}

// Deactivate disables an extension without unregistering it.
func (r *Registry) Deactivate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activated, name)
}

// IsActivated reports whether an extension is active.
func (r *Registry) IsActivated(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activated[name]
}

// Notify invokes every active extension's handler with the signal.
// Handler errors are collected, never fatal: an extension cannot stall
// the kernel.
func (r *Registry) Notify(ctx context.Context, sig *signal.Signal) map[string]error {
	r.mu.Lock()
	handlers := make(map[string]Handler)
	for name := range r.activated {
		if entry, ok := r.registered[name]; ok && entry.handler != nil {
			handlers[name] = entry.handler
		}
	}
	r.mu.Unlock()

	errs := make(map[string]error)
	for name, h := range handlers {
		if err := invoke(ctx, h, sig); err != nil {
			errs[name] = err
		}
	}
	return errs
}

func invoke(ctx context.Context, h Handler, sig *signal.Signal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extension panic: %v", r)
		}
	}()
	return h(ctx, sig)
}

// Registered returns every registered extension name, sorted.
func (r *Registry) Registered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.registered))
	for name := range r.registered {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Activated returns every active extension name, sorted.
func (r *Registry) Activated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.activated))
	for name := range r.activated {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compliance returns the stored compliance result for an extension.
func (r *Registry) Compliance(name string) (ComplianceResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.registered[name]
	if !ok {
		return ComplianceResult{}, false
	}
	return entry.compliance, true
}
