// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"

	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/pkg/abi"
)

// interpose runs after the handler status is written and before
// switch-back. Cancellation wins over signals; either one leaves the thread
// in the relaxed domain regardless of SwitchBack.
func (e *Engine) interpose(ctx context.Context, c *call) {
	t := c.thread
	if t != nil && t.TestInfo(rtthread.Cancelled) {
		e.cancel(ctx, c.frame, t)
		return
	}

	cur := e.co.Migrator.CurrentDomain(ctx)
	if t != nil && cur == DomainControl {
		// A kick alone only counts in the control stage; the relaxed stage
		// reacts to host signals.
		kicked := c.home == DomainControl && t.TestInfo(rtthread.Kicked)
		if e.co.Signals.SignalPending(ctx) || kicked {
			e.prepareForSignal(ctx, c)
			return
		}
		// Weak threads with no nested resources end the call relaxed,
		// whichever stage served it.
		if t.IsWeakIdle() {
			c.switched = false
			e.co.Migrator.EnterRelaxed(ctx, false, CauseNone)
			return
		}
	}

	if c.mode.Has(execmode.SwitchBack) && cur != c.entry {
		e.switchBack(ctx, c)
	}
}

// prepareForSignal reports an interrupted wait to the caller and relaxes
// the thread so the host can deliver the signal.
func (e *Engine) prepareForSignal(ctx context.Context, c *call) {
	t := c.thread
	notify := false
	if t.TestInfo(rtthread.Kicked) {
		if e.co.Signals.SignalPending(ctx) {
			st := abi.StatusRestart
			if c.mode.Has(execmode.NoTransparentRestart) {
				st = abi.StatusInterrupted
			}
			c.frame.SetStatus(st)
			e.interrupted.Add(1)
			notify = !t.TestState(rtthread.Debug)
			t.ClearInfo(rtthread.Break)
		}
		t.ClearInfo(rtthread.Kicked)
	}

	if e.co.Canceller.TestCancel(ctx, t) {
		t.ClearInfo(rtthread.Cancelled)
		c.frame.SetStatus(abi.StatusCancelled)
		e.cancelled.Add(1)
	}
	e.co.Migrator.EnterRelaxed(ctx, notify, CauseSignal)
}

// cancel runs cooperative cancellation for t. No ordinary status survives:
// a call frame reports StatusCancelled.
func (e *Engine) cancel(ctx context.Context, f abi.Frame, t *rtthread.Thread) {
	t.ClearInfo(rtthread.Kicked)
	e.co.Canceller.TestCancel(ctx, t)
	t.ClearInfo(rtthread.Cancelled)
	if f.IsCall() {
		f.SetStatus(abi.StatusCancelled)
	}
	e.cancelled.Add(1)
	if e.co.Migrator.CurrentDomain(ctx) == DomainControl {
		e.co.Migrator.EnterRelaxed(ctx, false, CauseSignal)
	}
}

// switchBack returns the caller to the domain it had when the call entered
// this stage. A failed harden is logged; the next call boundary sees it.
func (e *Engine) switchBack(ctx context.Context, c *call) {
	if c.entry == DomainRelaxed {
		e.co.Migrator.EnterRelaxed(ctx, false, CauseNone)
		return
	}
	if err := e.co.Migrator.EnterControl(ctx); err != nil {
		e.logger.Debug("switch-back deferred", "call", c.desc.Name, "error", err)
	}
}
