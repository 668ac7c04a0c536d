// SPDX-License-Identifier: MPL-2.0

// Package calls implements the core calls every co-kernel process relies
// on: feature binding, domain migration, the one-way trap, and the
// configuration queries. They are registered into a systab.Builder like any
// other handler and go through the same dispatcher.
package calls

import (
	"context"
	"errors"
	"io"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/features"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

// ErrMissingDependency is returned by Register when a required dependency
// is nil.
var ErrMissingDependency = errors.New("calls: missing dependency")

type (
	// ProcessRegistry creates the process binding of the caller, or returns
	// the existing one.
	ProcessRegistry interface {
		BindProcess(ctx context.Context, info features.Info) (*rtthread.Process, error)
	}

	// Deps are the services and settings the core calls need.
	Deps struct {
		Migrator  dispatch.Migrator
		Processes ProcessRegistry
		Logger    *log.Logger
		// Offer is the feature set and ABI revision presented to bind.
		Offer features.Offer
		// Sysconf answers the sysconf and info queries.
		Sysconf Sysconf
	}

	core struct {
		Deps
	}
)

var coreIDs = []abi.CallID{
	systab.SysMigrate, systab.SysBind, systab.SysGetCurrent, systab.SysInfo,
	systab.SysSysconf, systab.SysSysctl, systab.SysMayday,
}

// IsCore reports whether id is one of the calls registered by Register.
func IsCore(id abi.CallID) bool { return slices.Contains(coreIDs, id) }

// Register binds the core calls into b.
func Register(b *systab.Builder, deps Deps) (*systab.Builder, error) {
	if deps.Migrator == nil || deps.Processes == nil {
		return b, ErrMissingDependency
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}
	c := &core{Deps: deps}
	return b.
		Register(systab.SysMigrate, c.migrate).
		Register(systab.SysBind, c.bind).
		Register(systab.SysGetCurrent, c.getCurrent).
		Register(systab.SysInfo, c.info).
		Register(systab.SysSysconf, c.sysconf).
		Register(systab.SysSysctl, c.sysctl).
		Register(systab.SysMayday, c.mayday), nil
}

// NewTable builds a table holding only the core calls.
func NewTable(deps Deps) (*systab.Table, error) {
	b, err := Register(systab.NewBuilder(), deps)
	if err != nil {
		return nil, err
	}
	return b.Build()
}
