// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"

	"github.com/invowk/cokernel/internal/rtthread"
)

const (
	// DomainRelaxed is the host-scheduled domain where blocking and paging
	// are allowed.
	DomainRelaxed Domain = iota
	// DomainControl is the deterministic, bounded-latency domain.
	DomainControl
)

const (
	// CauseNone is reported for silent relaxes (weak threads, switch-back).
	CauseNone MigrationCause = iota
	// CauseCall is reported when a call requires relaxed execution.
	CauseCall
	// CauseSignal is reported when a signal or cancellation is delivered.
	CauseSignal
)

const (
	// Propagate means the frame is not handled here; the next stage (the
	// relaxed dispatcher, then the host) must process it.
	Propagate Disposition = iota
	// Handled means the result is written and propagation stops.
	Handled
)

type (
	// Domain is one of the two execution domains.
	Domain uint8

	// MigrationCause is reported to observers when a thread relaxes.
	MigrationCause uint8

	// Disposition is the verdict of a dispatcher on a frame.
	Disposition uint8

	// Migrator moves the calling thread between domains. The current domain
	// is always queried, never cached: only migration changes it.
	Migrator interface {
		CurrentDomain(ctx context.Context) Domain
		// EnterControl hardens the caller. It may fail; the error should
		// carry an abi.StatusError when a specific status is meant.
		EnterControl(ctx context.Context) error
		// EnterRelaxed relaxes the caller. It cannot fail. notify asks for
		// a debug notification to the thread.
		EnterRelaxed(ctx context.Context, notify bool, cause MigrationCause)
	}

	// Binder resolves the caller to its real-time bindings. Either may be nil.
	Binder interface {
		CurrentThread(ctx context.Context) *rtthread.Thread
		CurrentProcess(ctx context.Context) *rtthread.Process
	}

	// Privileges reports whether the caller holds the elevated scheduling
	// privilege required for real-time calls.
	Privileges interface {
		HasRealtimePrivilege(ctx context.Context) bool
	}

	// Signals reports host signals pending for the caller.
	Signals interface {
		SignalPending(ctx context.Context) bool
	}

	// Canceller runs cooperative cancellation of a thread when it is pending,
	// clearing the request. It reports whether cancellation ran.
	Canceller interface {
		TestCancel(ctx context.Context, t *rtthread.Thread) bool
	}

	// Collaborators groups the services the engine depends on.
	Collaborators struct {
		Migrator   Migrator
		Binder     Binder
		Privileges Privileges
		Signals    Signals
		Canceller  Canceller
	}
)

func (d Domain) String() string {
	switch d {
	case DomainRelaxed:
		return "relaxed"
	case DomainControl:
		return "control"
	default:
		return "unknown"
	}
}

func (c MigrationCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseCall:
		return "call"
	case CauseSignal:
		return "signal"
	default:
		return "unknown"
	}
}

func (d Disposition) String() string {
	if d == Handled {
		return "handled"
	}
	return "propagate"
}
