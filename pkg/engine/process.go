package engine

import (
	"context"
	"fmt"

	"github.com/praxis-works/covenant/pkg/archetype"
	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/extension"
	"github.com/praxis-works/covenant/pkg/failure"
	"github.com/praxis-works/covenant/pkg/ledger"
	"github.com/praxis-works/covenant/pkg/legality"
	"github.com/praxis-works/covenant/pkg/routing"
	"github.com/praxis-works/covenant/pkg/signal"
	"github.com/praxis-works/covenant/pkg/timing"
)

// Process runs one signal through the pipeline: legality check, routing,
// audit. Illegal signals never reach the router, and every decision or
// termination is written to the ledger. While halted, only halt signals
// enter the pipeline; everything else is rejected without an audit entry.
func (e *Engine) Process(ctx context.Context, sig *signal.Signal, lctx legality.Context) (Result, error) {
	e.mu.Lock()
	if !e.booted {
		e.mu.Unlock()
		return Result{}, ErrNotBooted
	}
	e.mu.Unlock()

	if e.haltCtrl.IsHalted() && sig.Type != signal.TypeHalt {
		return Result{
			Processed: false,
			Stage:     "halted",
			Reason:    "engine halted: " + e.haltCtrl.Reason(),
		}, nil
	}

	ctx, done := e.obs.TrackPipeline(ctx, sig.Type)
	var pipelineErr error
	defer func() { done(pipelineErr) }()

	e.mu.Lock()
	e.signalsProcessed++
	e.mu.Unlock()

	lctx.SystemHalted = e.haltCtrl.IsHalted()

	// Step 1: legality gate.
	var verdict legality.Result
	breach, _ := e.enforcer.Measure("legality_gate", "legality_check_ms", func() error {
		verdict = e.gate.Check(sig, lctx)
		return nil
	})
	if breach != nil {
		e.health.ReportFailure("legality", "timing_breach",
			fmt.Sprintf("legality check took %.2fms", breach.ActualMs))
	} else {
		e.health.ReportHealthy("legality")
	}

	if !verdict.Legal {
		e.mu.Lock()
		e.signalsTerminated++
		e.mu.Unlock()
		e.obs.SignalTerminated(ctx)

		if _, err := e.ledger.WriteContainment(*verdict.Containment); err != nil {
			e.health.ReportFailure("audit", "audit_failure", err.Error())
			pipelineErr = err
			return Result{}, fmt.Errorf("audit containment: %w", err)
		}
		e.health.ReportHealthy("audit")
		e.logger.WarnContext(ctx, "signal terminated",
			"signal_id", sig.ID,
			"violations", len(verdict.Violations))
		return Result{
			Processed:  false,
			Stage:      "legality",
			Violations: verdict.Violations,
		}, nil
	}

	// Step 2: route.
	var decision routing.Decision
	breach, _ = e.enforcer.Measure("router", "routing_ms", func() error {
		decision = *e.router.Route(ctx, sig)
		return nil
	})
	if breach != nil {
		e.health.ReportFailure("router", "timing_breach",
			fmt.Sprintf("routing took %.2fms", breach.ActualMs))
	} else {
		e.health.ReportHealthy("router")
	}

	// Step 3: audit.
	var entry ledger.Entry
	breach, auditErr := e.enforcer.Measure("ledger", "audit_write_ms", func() error {
		var err error
		entry, err = e.ledger.WriteRoutingDecision(sig, decision)
		return err
	})
	if auditErr != nil {
		e.health.ReportFailure("audit", "audit_failure", auditErr.Error())
		pipelineErr = auditErr
		return Result{}, fmt.Errorf("audit routing decision: %w", auditErr)
	}
	if breach != nil {
		e.health.ReportFailure("audit", "timing_breach",
			fmt.Sprintf("audit write took %.2fms", breach.ActualMs))
	} else {
		e.health.ReportHealthy("audit")
	}

	switch decision.Action {
	case routing.ActionHalt, routing.ActionSystemHalt:
		reason := decision.Reason
		if reason == "" {
			reason = "routing halt"
		}
		e.haltCtrl.Halt(reason, "router")
		e.bus.Halt(reason)
		e.obs.Halt(ctx)
		e.logger.WarnContext(ctx, "system halted",
			"signal_id", sig.ID, "reason", reason)
	case routing.ActionEscalated:
		e.obs.Escalation(ctx)
	default:
		e.obs.SignalRouted(ctx)
	}

	e.mu.Lock()
	e.signalsRouted++
	e.mu.Unlock()

	e.extensions.Notify(ctx, sig)
	e.logger.DebugContext(ctx, "signal processed",
		"signal_id", sig.ID,
		"action", string(decision.Action),
		"target", decision.Target,
		"audit_index", entry.Index)

	return Result{
		Processed:     true,
		Action:        decision.Action,
		Target:        decision.Target,
		Reason:        decision.Reason,
		HandlerResult: decision.HandlerResult,
	}, nil
}

// CreateSignal builds a validated signal via the engine's factory.
func (e *Engine) CreateSignal(sigType, domain, authority string, payload interface{}, opts ...signal.Option) (*signal.Signal, error) {
	if !e.IsBooted() {
		return nil, ErrNotBooted
	}
	return e.factory.Create(sigType, domain, authority, payload, opts...)
}

// SubmitAndProcess creates a signal, submits it through the bus, and runs
// the pipeline on everything the bus holds, in priority order. Submit and
// drain happen under one lock, so each queued signal is processed exactly
// once and the bus is empty when the call returns.
func (e *Engine) SubmitAndProcess(ctx context.Context, sigType, domain, authority string, payload interface{}, opts ...signal.Option) (Result, error) {
	sig, err := e.CreateSignal(sigType, domain, authority, payload, opts...)
	if err != nil {
		return Result{}, err
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if res := e.bus.Submit(sig); !res.Accepted {
		return Result{
			Processed: false,
			Stage:     "bus",
			Reason:    res.Reason,
		}, nil
	}

	var out Result
	for _, queued := range e.bus.DrainAll() {
		res, perr := e.Process(ctx, queued, legality.Context{ViaRouter: true})
		if queued.ID == sig.ID {
			out = res
			err = perr
		}
	}
	return out, err
}

// Resume lifts a system halt after re-verifying the audit chain. An
// invalid chain keeps the engine down.
func (e *Engine) Resume() timing.ResumeResult {
	v := e.ledger.Verify()
	res := e.haltCtrl.Resume(v.Valid)
	if res.Resumed {
		e.router.Resume()
		e.bus.Resume()
	}
	return res
}

// IsBooted reports whether Boot completed.
func (e *Engine) IsBooted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.booted
}

// IsHalted reports whether the engine is halted.
func (e *Engine) IsHalted() bool {
	if e.haltCtrl == nil {
		return false
	}
	return e.haltCtrl.IsHalted()
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := 0
	if e.ledger != nil {
		entries = e.ledger.Length()
	}
	return Stats{
		SignalsProcessed:  e.signalsProcessed,
		SignalsTerminated: e.signalsTerminated,
		SignalsRouted:     e.signalsRouted,
		LedgerEntries:     entries,
		Halted:            e.haltCtrl != nil && e.haltCtrl.IsHalted(),
	}
}

// Constitution returns the loaded constitution.
func (e *Engine) Constitution() *constitution.Constitution { return e.constitution }

// Factory returns the signal factory.
func (e *Engine) Factory() *signal.Factory { return e.factory }

// Bus returns the signal bus.
func (e *Engine) Bus() *signal.Bus { return e.bus }

// Router returns the authority router.
func (e *Engine) Router() *routing.Router { return e.router }

// Gate returns the legality gate.
func (e *Engine) Gate() *legality.Gate { return e.gate }

// Ledger returns the audit ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Watchdog returns the subsystem watchdog.
func (e *Engine) Watchdog() *timing.Watchdog { return e.watchdog }

// HaltController returns the halt controller.
func (e *Engine) HaltController() *timing.HaltController { return e.haltCtrl }

// Health returns the health monitor.
func (e *Engine) Health() *failure.HealthMonitor { return e.health }

// Governance returns the compiled archetype the engine booted with.
func (e *Engine) Governance() archetype.Compiled { return e.governance }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *extension.Registry { return e.extensions }
