// SPDX-License-Identifier: MPL-2.0

// Package sim is an in-process co-kernel implementing every collaborator
// the dispatch engine needs: domain migration, binding lookup, privilege,
// signal and cancellation services.
//
// Calls are attributed to a simulated host thread carried by the context
// (WithThread). The kernel is deterministic: a migration takes effect
// immediately, and harden failures are injected explicitly. It is safe for
// concurrent use by many threads, each dispatching from its own goroutine.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/features"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/pkg/abi"
)

// ErrAlreadyBound is returned when shadowing a thread twice.
var ErrAlreadyBound = errors.New("already bound")

var (
	_ dispatch.Migrator   = (*Kernel)(nil)
	_ dispatch.Binder     = (*Kernel)(nil)
	_ dispatch.Privileges = (*Kernel)(nil)
	_ dispatch.Signals    = (*Kernel)(nil)
	_ dispatch.Canceller  = (*Kernel)(nil)
)

type (
	// Kernel is the simulated co-kernel.
	Kernel struct {
		mu         sync.Mutex
		threads    []*Thread
		processes  map[int]*rtthread.Process
		nextHandle rtthread.Handle
		privileges dispatch.Privileges
	}

	// KernelOption configures a Kernel.
	KernelOption func(*Kernel)
)

// WithPrivilegeSource delegates privilege checks to p instead of the
// per-thread setting.
func WithPrivilegeSource(p dispatch.Privileges) KernelOption {
	return func(k *Kernel) { k.privileges = p }
}

// NewKernel creates an empty simulated kernel.
func NewKernel(opts ...KernelOption) *Kernel {
	k := &Kernel{processes: make(map[int]*rtthread.Process), nextHandle: 1}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Collaborators returns the kernel wired as every engine collaborator.
func (k *Kernel) Collaborators() dispatch.Collaborators {
	return dispatch.Collaborators{Migrator: k, Binder: k, Privileges: k, Signals: k, Canceller: k}
}

// Spawn creates an unbound host thread. Unbound threads run relaxed.
func (k *Kernel) Spawn(name string, opts ...ThreadOption) *Thread {
	t := &Thread{name: name, pid: 1}
	for _, opt := range opts {
		opt(t)
	}
	t.domain = dispatch.DomainRelaxed
	k.mu.Lock()
	k.threads = append(k.threads, t)
	k.mu.Unlock()
	return t
}

// SpawnBound creates a host thread already bound to a real-time control
// block with the given state, starting in the domain set by WithDomain
// (relaxed by default).
func (k *Kernel) SpawnBound(name string, state rtthread.State, opts ...ThreadOption) *Thread {
	t := &Thread{name: name, pid: 1}
	for _, opt := range opts {
		opt(t)
	}
	k.mu.Lock()
	t.rt = rtthread.NewThread(name, k.nextHandle, state)
	k.nextHandle++
	k.threads = append(k.threads, t)
	k.mu.Unlock()
	return t
}

// Shadow binds an existing host thread to a new control block.
func (k *Kernel) Shadow(t *Thread, state rtthread.State) (*rtthread.Thread, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rt != nil {
		return nil, fmt.Errorf("shadow %s: %w", t.name, ErrAlreadyBound)
	}
	t.rt = rtthread.NewThread(t.name, k.nextHandle, state)
	k.nextHandle++
	return t.rt, nil
}

// Threads returns every spawned thread in creation order.
func (k *Kernel) Threads() []*Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*Thread, len(k.threads))
	copy(out, k.threads)
	return out
}

// BindProcess publishes the binding of the calling thread's process with
// the negotiated features. Binding is lazy: the first successful call
// creates it and later calls get the existing one.
func (k *Kernel) BindProcess(ctx context.Context, info features.Info) (*rtthread.Process, error) {
	t := ThreadFrom(ctx)
	if t == nil {
		return nil, fmt.Errorf("bind process: %w", statusErr(abi.StatusPermissionDenied, "bind"))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if p, ok := k.processes[t.pid]; ok {
		return p, nil
	}
	p := rtthread.NewProcess(t.pid, info)
	k.processes[t.pid] = p
	return p, nil
}

// Process returns the binding of pid, or nil.
func (k *Kernel) Process(pid int) *rtthread.Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.processes[pid]
}

// CurrentDomain implements dispatch.Migrator.
func (k *Kernel) CurrentDomain(ctx context.Context) dispatch.Domain {
	if t := ThreadFrom(ctx); t != nil {
		return t.Domain()
	}
	return dispatch.DomainRelaxed
}

// EnterControl implements dispatch.Migrator. Unbound threads cannot harden;
// a pending host signal aborts the migration with a restart status.
func (k *Kernel) EnterControl(ctx context.Context) error {
	t := ThreadFrom(ctx)
	if t == nil {
		return statusErr(abi.StatusPermissionDenied, "harden")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.rt == nil:
		return statusErr(abi.StatusPermissionDenied, "harden")
	case len(t.hardenFailures) > 0:
		err := t.hardenFailures[0]
		t.hardenFailures = t.hardenFailures[1:]
		if err == nil {
			err = statusErr(abi.StatusMigrationFailed, "harden")
		}
		return err
	case t.pending > 0:
		return statusErr(abi.StatusRestart, "harden")
	case t.domain == dispatch.DomainControl:
		return nil
	}
	t.record(Migration{From: t.domain, To: dispatch.DomainControl})
	t.domain = dispatch.DomainControl
	return nil
}

// EnterRelaxed implements dispatch.Migrator. Relaxing a relaxed thread is
// a no-op and is not recorded.
func (k *Kernel) EnterRelaxed(ctx context.Context, notify bool, cause dispatch.MigrationCause) {
	t := ThreadFrom(ctx)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.domain == dispatch.DomainRelaxed {
		return
	}
	t.record(Migration{From: t.domain, To: dispatch.DomainRelaxed, Notify: notify, Cause: cause})
	t.domain = dispatch.DomainRelaxed
}

// CurrentThread implements dispatch.Binder.
func (k *Kernel) CurrentThread(ctx context.Context) *rtthread.Thread {
	if t := ThreadFrom(ctx); t != nil {
		return t.RT()
	}
	return nil
}

// CurrentProcess implements dispatch.Binder.
func (k *Kernel) CurrentProcess(ctx context.Context) *rtthread.Process {
	if t := ThreadFrom(ctx); t != nil {
		return k.Process(t.pid)
	}
	return nil
}

// HasRealtimePrivilege implements dispatch.Privileges.
func (k *Kernel) HasRealtimePrivilege(ctx context.Context) bool {
	if k.privileges != nil {
		return k.privileges.HasRealtimePrivilege(ctx)
	}
	t := ThreadFrom(ctx)
	return t != nil && t.Privileged()
}

// SignalPending implements dispatch.Signals.
func (k *Kernel) SignalPending(ctx context.Context) bool {
	t := ThreadFrom(ctx)
	return t != nil && t.PendingSignals() > 0
}

// TestCancel implements dispatch.Canceller.
func (k *Kernel) TestCancel(ctx context.Context, rt *rtthread.Thread) bool {
	if rt == nil || !rt.ClearInfo(rtthread.Cancelled) {
		return false
	}
	if t := ThreadFrom(ctx); t != nil {
		t.mu.Lock()
		t.cancelled = true
		t.mu.Unlock()
	}
	return true
}

func statusErr(st abi.Status, op string) error {
	return &abi.StatusError{Status: st, Op: op}
}

// FixedPrivilege answers every privilege check the same way.
type FixedPrivilege bool

// HasRealtimePrivilege implements dispatch.Privileges.
func (p FixedPrivilege) HasRealtimePrivilege(context.Context) bool { return bool(p) }
