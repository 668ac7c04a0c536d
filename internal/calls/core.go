// SPDX-License-Identifier: MPL-2.0

package calls

import (
	"context"
	"errors"

	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/features"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

// Migration targets accepted by the migrate call.
const (
	MigratePrimary   = 0
	MigrateSecondary = 1
)

// migrate moves the caller on request. It returns 1 when a switch
// happened and 0 when the caller already was where it asked to be.
func (c *core) migrate(ctx context.Context, req *systab.Request) abi.Status {
	target := req.Args[0]
	if c.Migrator.CurrentDomain(ctx) == dispatch.DomainRelaxed {
		if target != MigratePrimary {
			return abi.StatusOK
		}
		if req.Thread == nil {
			return abi.StatusPermissionDenied
		}
		// Not started yet: a harden would wake it prematurely.
		if req.Thread.TestState(rtthread.Dormant) {
			return abi.StatusOK
		}
		if err := c.Migrator.EnterControl(ctx); err != nil {
			return abi.StatusFromError(err)
		}
		return 1
	}

	if target == MigrateSecondary {
		c.Migrator.EnterRelaxed(ctx, false, dispatch.CauseNone)
		return 1
	}
	return abi.StatusOK
}

// bind negotiates features with the caller and creates the process
// binding. Arguments: requested feature set, caller ABI revision.
func (c *core) bind(ctx context.Context, req *systab.Request) abi.Status {
	request := features.Set(req.Args[0])
	callerRev := int(int32(uint32(req.Args[1])))

	info, err := c.Offer.Negotiate(request, callerRev)
	switch {
	case errors.Is(err, features.ErrMissingFeatures):
		c.Logger.Warn("bind refused", "missing", info.Mis.String(), "requested", info.Req.String())
		return abi.StatusInvalid
	case errors.Is(err, features.ErrABIMismatch):
		c.Logger.Warn("bind refused", "error", err)
		return abi.StatusNoExec
	case err != nil:
		return abi.StatusInvalid
	}

	p, err := c.Processes.BindProcess(ctx, info)
	if err != nil {
		return abi.StatusFromError(err)
	}
	c.Logger.Debug("process bound", "pid", p.PID(), "features", info.All.String(), "abi", info.ABIRev)
	return abi.StatusOK
}

func (c *core) getCurrent(_ context.Context, req *systab.Request) abi.Status {
	if req.Thread == nil {
		return abi.StatusPermissionDenied
	}
	return abi.Status(req.Thread.Handle())
}

func (c *core) info(context.Context, *systab.Request) abi.Status {
	return abi.Status(c.Sysconf.ClockFreq)
}

// mayday restores the return site saved when the thread was diverted to
// the trap. It answers with the result word the fixup put in place, so
// writing the status back leaves the fixup intact.
func (c *core) mayday(_ context.Context, req *systab.Request) abi.Status {
	if req.Thread == nil {
		c.Logger.Warn("mayday received from invalid context")
		return abi.StatusPermissionDenied
	}
	ct, ok := req.Frame.(abi.ControlTransfer)
	if !ok {
		return abi.StatusFault
	}
	site := req.Thread.TrapSite()
	ct.SetIP(site.IP)
	ct.SetResultWord(site.Result)
	return req.Frame.Status()
}
