// Package engine wires the kernel into a single governed pipeline.
//
// Boot sequence: constitution → validate → invariants → subsystems →
// ledger boot validation → handlers → ready. Process sequence: legality →
// route → audit. A failed boot never starts the engine, and every routed
// or terminated signal leaves an audit entry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/praxis-works/covenant/pkg/archetype"
	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/extension"
	"github.com/praxis-works/covenant/pkg/failure"
	"github.com/praxis-works/covenant/pkg/ledger"
	"github.com/praxis-works/covenant/pkg/legality"
	"github.com/praxis-works/covenant/pkg/observability"
	"github.com/praxis-works/covenant/pkg/routing"
	"github.com/praxis-works/covenant/pkg/signal"
	"github.com/praxis-works/covenant/pkg/timing"
)

// ErrNotBooted is returned by Process before a successful Boot.
var ErrNotBooted = errors.New("engine not booted")

// monitored subsystems registered with the health monitor and watchdog.
var subsystems = []string{"router", "legality", "audit", "bus"}

// Phase records one boot step.
type Phase struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// BootReport is the ordered record of the boot sequence.
type BootReport struct {
	Phases []Phase `json:"phases"`
	Status string  `json:"status"`
	Error  string  `json:"error,omitempty"`
}

// Stats is a snapshot of engine counters.
type Stats struct {
	SignalsProcessed  int  `json:"signals_processed"`
	SignalsTerminated int  `json:"signals_terminated"`
	SignalsRouted     int  `json:"signals_routed"`
	LedgerEntries     int  `json:"ledger_entries"`
	Halted            bool `json:"halted"`
}

// Result is the outcome of one trip through the process pipeline.
type Result struct {
	Processed     bool                   `json:"processed"`
	Stage         string                 `json:"stage,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Action        routing.Action         `json:"action,omitempty"`
	Target        string                 `json:"target,omitempty"`
	Violations    []legality.Violation   `json:"violations,omitempty"`
	HandlerResult *routing.HandlerResult `json:"handler_result,omitempty"`
}

// Options configures an engine before boot.
type Options struct {
	ConstitutionPath string
	Archetype        string                         // defaults to "managerial"
	LedgerStore      ledger.Store                   // nil keeps the ledger in memory
	Handlers         map[string]routing.HandlerFunc // per-tier overrides
	Telemetry        *observability.Provider        // nil disables telemetry
	Logger           *slog.Logger                   // nil uses slog.Default
}

// Engine is the full constitutional kernel.
type Engine struct {
	mu       sync.Mutex
	submitMu sync.Mutex
	opts     Options
	booted   bool
	logger   *slog.Logger
	obs      *observability.Provider

	constitution *constitution.Constitution
	factory      *signal.Factory
	bus          *signal.Bus
	router       *routing.Router
	gate         *legality.Gate
	ledger       *ledger.Ledger
	enforcer     *timing.Enforcer
	watchdog     *timing.Watchdog
	haltCtrl     *timing.HaltController
	matrix       *failure.Matrix
	health       *failure.HealthMonitor
	configurator *archetype.Configurator
	governance   archetype.Compiled
	extensions   *extension.Registry

	signalsProcessed  int
	signalsTerminated int
	signalsRouted     int
}

// New creates an unbooted engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := opts.Telemetry
	if obs == nil {
		obs, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	if opts.Archetype == "" {
		opts.Archetype = "managerial"
	}
	return &Engine{
		opts:   opts,
		logger: logger.With("component", "engine"),
		obs:    obs,
	}
}

// Boot runs the full boot sequence. Any constitutional violation fails
// the boot and the engine never starts.
func (e *Engine) Boot(ctx context.Context) (BootReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := BootReport{Status: "booting"}
	fail := func(phase string, err error) (BootReport, error) {
		report.Phases = append(report.Phases, Phase{Name: phase, Status: "failed", Detail: err.Error()})
		report.Status = "failed"
		report.Error = err.Error()
		e.logger.ErrorContext(ctx, "boot failed", "phase", phase, "error", err)
		return report, fmt.Errorf("boot failed at %s: %w", phase, err)
	}
	ok := func(phase string, detail string) {
		report.Phases = append(report.Phases, Phase{Name: phase, Status: "ok", Detail: detail})
	}

	c, err := constitution.Load(e.opts.ConstitutionPath)
	if err != nil {
		return fail("constitution_load", err)
	}
	ok("constitution_load", "")

	if err := c.Validate(); err != nil {
		return fail("constitution_validate", err)
	}
	ok("constitution_validate", "")

	constitution.RegisterBuiltinChecks(c)
	invariants, err := c.RunInvariantChecks()
	if err != nil {
		return fail("invariant_checks", err)
	}
	if !invariants.AllPassed() {
		return fail("invariant_checks", fmt.Errorf("%d of %d checks failed\n%s",
			invariants.Failed, invariants.Total(), invariants))
	}
	ok("invariant_checks", fmt.Sprintf("%d/%d passed", invariants.Passed, invariants.Total()))
	e.constitution = c

	e.factory, err = signal.NewFactory(c)
	if err != nil {
		return fail("signal_substrate", err)
	}
	e.bus = signal.NewBus(e.factory)
	ok("signal_substrate", "")

	e.router, err = routing.NewRouter(c)
	if err != nil {
		return fail("router_kernel", err)
	}
	ok("router_kernel", "")

	e.gate, err = legality.NewGate(c, e.factory)
	if err != nil {
		return fail("legality_gate", err)
	}
	ok("legality_gate", "")

	if e.opts.LedgerStore != nil {
		e.ledger, err = ledger.NewFromStore(e.opts.LedgerStore)
		if err != nil {
			return fail("audit_ledger", err)
		}
	} else {
		e.ledger = ledger.New()
	}
	bootV, err := e.ledger.BootValidation()
	if err != nil {
		return fail("audit_ledger", err)
	}
	detail := fmt.Sprintf("%d entries", bootV.Entries)
	if !bootV.BootValid {
		detail = fmt.Sprintf("corruption truncated, %d entries remain", bootV.Entries)
		e.logger.WarnContext(ctx, "audit chain corrupted at boot",
			"removed", bootV.Truncate.Removed, "remaining", bootV.Entries)
	}
	ok("audit_ledger", detail)

	e.enforcer, err = timing.NewEnforcer(c)
	if err != nil {
		return fail("timing_halt", err)
	}
	e.watchdog, err = timing.NewWatchdog(c)
	if err != nil {
		return fail("timing_halt", err)
	}
	e.haltCtrl = timing.NewHaltController()
	ok("timing_halt", "")

	e.matrix, err = failure.NewMatrix(c, e.haltCtrl)
	if err != nil {
		return fail("failure_matrix", err)
	}
	e.health = failure.NewHealthMonitor(e.matrix)
	for _, name := range subsystems {
		e.health.Register(name)
		e.watchdog.Register(name)
	}
	ok("failure_matrix", "")

	e.configurator, err = archetype.NewConfigurator(c)
	if err != nil {
		return fail("configurator", err)
	}
	e.governance, err = e.configurator.Compile(e.opts.Archetype)
	if err != nil {
		return fail("configurator", err)
	}
	if !e.governance.Valid {
		return fail("configurator", fmt.Errorf("archetype %q violates kernel invariants: %v",
			e.opts.Archetype, e.governance.Violations))
	}
	ok("configurator", e.opts.Archetype)

	e.extensions, err = extension.NewRegistry(c)
	if err != nil {
		return fail("extension_registry", err)
	}
	ok("extension_registry", "")

	if err := e.registerHandlers(); err != nil {
		return fail("handlers_registered", err)
	}
	ok("handlers_registered", "")

	if _, err := e.ledger.Write(ledger.Record{
		SignalType:   "system",
		Route:        "boot",
		Handler:      "engine",
		Outcome:      "boot_complete",
		SignalID:     "boot",
		SignalDomain: "constitutional",
	}); err != nil {
		return fail("boot_audit", err)
	}

	e.booted = true
	report.Status = "ready"
	e.logger.InfoContext(ctx, "engine ready",
		"archetype", e.opts.Archetype,
		"invariants", invariants.Total(),
		"ledger_entries", e.ledger.Length())
	return report, nil
}

// registerHandlers wires one handler per authority level, using caller
// overrides where provided and acknowledging defaults otherwise.
func (e *Engine) registerHandlers() error {
	jurisdictions := map[string][]string{
		"operator":  {"operational"},
		"innovator": {"governance", "operational"},
		"steward":   {"constitutional", "emergency", "governance", "operational"},
	}

	for _, level := range e.constitution.AuthorityLevels() {
		h := routing.NewAuthorityHandler(level, jurisdictions[level])
		if fn, found := e.opts.Handlers[level]; found {
			h.SetHandler(fn)
		} else {
			tier := level
			h.SetHandler(func(ctx context.Context, sig *signal.Signal) (routing.HandlerOutput, error) {
				return routing.HandlerOutput{
					Outcome: "processed",
					Data: map[string]interface{}{
						"handler":     tier,
						"signal_type": sig.Type,
					},
				}, nil
			})
		}
		if err := e.router.RegisterHandler(level, h); err != nil {
			return err
		}
	}
	return nil
}
