// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

// maxAttempts bounds the dispatch loop: the first attempt plus one adaptive
// retry in the opposite domain.
const maxAttempts = 2

var (
	// ErrNoTable is returned by New when no descriptor table is given.
	ErrNoTable = errors.New("dispatch: nil descriptor table")
	// ErrMissingCollaborator is returned by New when a collaborator is nil.
	ErrMissingCollaborator = errors.New("dispatch: missing collaborator")
)

type (
	// Config holds the immutable engine settings.
	Config struct {
		// Logger receives warnings and call traces. Defaults to a discard logger.
		Logger *log.Logger
		// WarnDenied logs every call rejected by the permission gate.
		WarnDenied bool
		// TraceCalls logs call entry and exit at debug level.
		TraceCalls bool
		// BindCall is the feature-negotiation call exempt from the process
		// and privilege checks. Defaults to systab.SysBind.
		BindCall *abi.CallID
	}

	// Stats are cumulative engine counters.
	Stats struct {
		Handled     uint64
		Propagated  uint64
		Denied      uint64
		BadCalls    uint64
		Retries     uint64
		Interrupted uint64
		Cancelled   uint64
	}

	// Engine routes calls to the domain able to serve them. It holds no
	// lock: per-thread state lives in the thread control block and the
	// table is immutable.
	Engine struct {
		table *systab.Table
		co    Collaborators
		cfg   Config

		bindCall abi.CallID
		logger   *log.Logger

		handled, propagated, denied, badCalls atomic.Uint64
		retries, interrupted, cancelled       atomic.Uint64
	}

	// call is the per-dispatch state of one frame.
	call struct {
		frame    abi.Frame
		desc     systab.Descriptor
		mode     execmode.Flags
		thread   *rtthread.Thread
		process  *rtthread.Process
		home     Domain
		entry    Domain
		switched bool
		status   abi.Status
	}
)

// New creates an engine over table.
func New(table *systab.Table, co Collaborators, cfg Config) (*Engine, error) {
	if table == nil {
		return nil, ErrNoTable
	}
	switch {
	case co.Migrator == nil:
		return nil, errors.Join(ErrMissingCollaborator, errors.New("migrator"))
	case co.Binder == nil:
		return nil, errors.Join(ErrMissingCollaborator, errors.New("binder"))
	case co.Privileges == nil:
		return nil, errors.Join(ErrMissingCollaborator, errors.New("privileges"))
	case co.Signals == nil:
		return nil, errors.Join(ErrMissingCollaborator, errors.New("signals"))
	case co.Canceller == nil:
		return nil, errors.Join(ErrMissingCollaborator, errors.New("canceller"))
	}

	e := &Engine{table: table, co: co, cfg: cfg, bindCall: systab.SysBind, logger: cfg.Logger}
	if cfg.BindCall != nil {
		e.bindCall = *cfg.BindCall
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}
	return e, nil
}

// Table returns the descriptor table the engine dispatches through.
func (e *Engine) Table() *systab.Table { return e.table }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Handled:     e.handled.Load(),
		Propagated:  e.propagated.Load(),
		Denied:      e.denied.Load(),
		BadCalls:    e.badCalls.Load(),
		Retries:     e.retries.Load(),
		Interrupted: e.interrupted.Load(),
		Cancelled:   e.cancelled.Load(),
	}
}

// Dispatch runs a frame through the pipeline: the control-domain dispatcher
// sees it first, then the relaxed-domain dispatcher if it propagates. A
// Propagate result means the host must handle the frame.
func (e *Engine) Dispatch(ctx context.Context, f abi.Frame) Disposition {
	if e.HandleControl(ctx, f) == Handled {
		return Handled
	}
	return e.HandleRelaxed(ctx, f)
}

// HandleControl is the entry point of the control-domain stage. It sees
// every frame first and owns the permission gate.
func (e *Engine) HandleControl(ctx context.Context, f abi.Frame) Disposition {
	if !f.IsCall() {
		// Host calls issued from the control domain must run relaxed.
		if e.co.Migrator.CurrentDomain(ctx) == DomainControl {
			e.co.Migrator.EnterRelaxed(ctx, true, CauseCall)
		}
		return e.propagate()
	}

	id := f.CallID()
	thread := e.co.Binder.CurrentThread(ctx)
	if !e.table.InRange(id) {
		return e.badCall(ctx, f, id, thread)
	}

	desc := e.table.Lookup(id)
	process := e.co.Binder.CurrentProcess(ctx)
	if e.deny(ctx, desc, thread, process) {
		e.denied.Add(1)
		if e.cfg.WarnDenied {
			e.logger.Warn("call denied", "call", desc.Name, "thread", threadName(thread))
		}
		f.SetStatus(abi.StatusPermissionDenied)
		e.finish(ctx, f, thread)
		return e.handle()
	}

	c := &call{
		frame:   f,
		desc:    desc,
		mode:    desc.Mode.Resolve(thread != nil),
		thread:  thread,
		process: process,
		home:    DomainControl,
	}
	return e.run(ctx, c)
}

// HandleRelaxed is the entry point of the relaxed-domain stage. Frames
// reaching it already passed the control stage's checks.
func (e *Engine) HandleRelaxed(ctx context.Context, f abi.Frame) Disposition {
	thread := e.co.Binder.CurrentThread(ctx)
	if thread != nil && thread.TestInfo(rtthread.Cancelled) {
		// Weak threads rarely reach the interposer; catch cancellation here.
		e.cancel(ctx, f, thread)
		if f.IsCall() {
			e.finish(ctx, f, thread)
			return e.handle()
		}
	}
	if !f.IsCall() {
		return e.propagate()
	}

	id := f.CallID()
	if !e.table.InRange(id) {
		return e.badCall(ctx, f, id, thread)
	}

	desc := e.table.Lookup(id)
	c := &call{
		frame:   f,
		desc:    desc,
		mode:    desc.Mode.Resolve(thread != nil),
		thread:  thread,
		process: e.co.Binder.CurrentProcess(ctx),
		home:    DomainRelaxed,
	}
	return e.run(ctx, c)
}

func (e *Engine) deny(ctx context.Context, d systab.Descriptor, t *rtthread.Thread, p *rtthread.Process) bool {
	bind := d.ID == e.bindCall
	switch {
	case p == nil && !bind:
		return true
	case t == nil && d.Mode.Has(execmode.RequiresBinding):
		return true
	case !bind && !e.co.Privileges.HasRealtimePrivilege(ctx):
		return true
	default:
		return false
	}
}

// run is the dispatch state machine shared by both stages. The home domain
// sets the default direction: the control stage relaxes for relaxed calls
// and hands control calls arriving from the relaxed domain to the next
// stage; the relaxed stage hardens for control calls.
func (e *Engine) run(ctx context.Context, c *call) Disposition {
	c.entry = e.co.Migrator.CurrentDomain(ctx)
	if e.cfg.TraceCalls {
		e.logger.Debug("call entry", "call", c.desc.Name, "stage", c.home, "domain", c.entry, "mode", c.mode)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.home == DomainControl {
			if e.placeForControlStage(ctx, c) == Propagate {
				return e.propagate()
			}
		} else if err := e.placeForRelaxedStage(ctx, c); err != nil {
			c.frame.SetStatus(abi.StatusFromError(err))
			e.finish(ctx, c.frame, c.thread)
			return e.handle()
		}

		c.status = c.desc.Handler(ctx, &systab.Request{
			ID:      c.desc.ID,
			Args:    c.frame.Args(),
			Frame:   c.frame,
			Thread:  c.thread,
			Process: c.process,
		})
		if c.status != abi.StatusNotSupported || !c.mode.Has(execmode.Adaptive) || attempt == maxAttempts {
			break
		}

		e.retries.Add(1)
		if c.switched {
			c.switched = false
			if c.home == DomainControl {
				if err := e.co.Migrator.EnterControl(ctx); err != nil {
					c.status = abi.StatusFromError(err)
					break
				}
			} else {
				e.co.Migrator.EnterRelaxed(ctx, true, CauseCall)
			}
		}
		c.mode = c.mode.Flip()
	}

	c.frame.SetStatus(c.status)
	// The handler may have created the binding (thread creation, binding).
	if t := e.co.Binder.CurrentThread(ctx); t != nil {
		c.thread = t
	}
	e.interpose(ctx, c)
	e.finish(ctx, c.frame, c.thread)

	if e.cfg.TraceCalls {
		e.logger.Debug("call exit", "call", c.desc.Name, "status", c.frame.Status(),
			"domain", e.co.Migrator.CurrentDomain(ctx))
	}
	return e.handle()
}

// placeForControlStage moves the caller where the control stage may run the
// handler, or reports that the relaxed stage must take over.
func (e *Engine) placeForControlStage(ctx context.Context, c *call) Disposition {
	cur := e.co.Migrator.CurrentDomain(ctx)
	switch {
	case c.mode.Has(execmode.RunInRelaxed):
		if cur != DomainControl {
			return Propagate
		}
		e.co.Migrator.EnterRelaxed(ctx, true, CauseCall)
		c.switched = true
	case c.mode.Any(execmode.RunInControl | execmode.RunInCurrent):
		if cur != DomainControl {
			return Propagate
		}
	}
	return Handled
}

// placeForRelaxedStage hardens the caller for control calls.
func (e *Engine) placeForRelaxedStage(ctx context.Context, c *call) error {
	c.switched = false
	if !c.mode.Has(execmode.RunInControl) || e.co.Migrator.CurrentDomain(ctx) == DomainControl {
		return nil
	}
	if err := e.co.Migrator.EnterControl(ctx); err != nil {
		e.logger.Debug("harden failed", "call", c.desc.Name, "error", err)
		return err
	}
	c.switched = true
	return nil
}

func (e *Engine) badCall(ctx context.Context, f abi.Frame, id abi.CallID, t *rtthread.Thread) Disposition {
	e.badCalls.Add(1)
	e.logger.Warn("bad call", "id", id)
	f.SetStatus(abi.StatusNotImplemented)
	e.finish(ctx, f, t)
	return e.handle()
}

// finish settles cancellation still pending on a path that skipped the
// interposer, then publishes the thread counters.
func (e *Engine) finish(ctx context.Context, f abi.Frame, t *rtthread.Thread) {
	if t == nil {
		return
	}
	if t.TestInfo(rtthread.Cancelled) {
		e.cancel(ctx, f, t)
	}
	t.CountCall()
	t.SyncWindow()
}

func (e *Engine) handle() Disposition {
	e.handled.Add(1)
	return Handled
}

func (e *Engine) propagate() Disposition {
	e.propagated.Add(1)
	return Propagate
}

func threadName(t *rtthread.Thread) string {
	if t == nil {
		return "<unbound>"
	}
	return t.Name()
}
