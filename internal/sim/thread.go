// SPDX-License-Identifier: MPL-2.0

package sim

import (
	"context"
	"slices"
	"sync"

	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/rtthread"
)

type (
	// Thread is a simulated host thread, optionally bound to a real-time
	// thread control block.
	Thread struct {
		name string
		pid  int

		mu             sync.Mutex
		rt             *rtthread.Thread
		domain         dispatch.Domain
		privileged     bool
		pending        int
		delivered      int
		hardenFailures []error
		migrations     []Migration
		notifications  int
		cancelled      bool
	}

	// Migration is one recorded domain change.
	Migration struct {
		From   dispatch.Domain
		To     dispatch.Domain
		Notify bool
		Cause  dispatch.MigrationCause
	}

	// ThreadOption configures a simulated thread.
	ThreadOption func(*Thread)

	threadKey struct{}
)

// WithPID sets the host process of the thread. Threads of one process
// share its binding.
func WithPID(pid int) ThreadOption {
	return func(t *Thread) { t.pid = pid }
}

// WithPrivilege grants or withholds the real-time scheduling privilege.
func WithPrivilege(granted bool) ThreadOption {
	return func(t *Thread) { t.privileged = granted }
}

// WithDomain sets the initial domain. Unbound threads are always relaxed.
func WithDomain(d dispatch.Domain) ThreadOption {
	return func(t *Thread) { t.domain = d }
}

// WithThread returns a context whose calls are issued by t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the simulated thread issuing calls in ctx, or nil.
func ThreadFrom(ctx context.Context) *Thread {
	t, _ := ctx.Value(threadKey{}).(*Thread)
	return t
}

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// PID returns the host process id.
func (t *Thread) PID() int { return t.pid }

// RT returns the real-time control block, or nil for an unbound thread.
func (t *Thread) RT() *rtthread.Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rt
}

// Domain returns the domain the thread currently runs in.
func (t *Thread) Domain() dispatch.Domain {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.domain
}

// PendingSignals returns the number of undelivered host signals.
func (t *Thread) PendingSignals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// DeliveredSignals returns the number of host signals delivered so far.
func (t *Thread) DeliveredSignals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delivered
}

// Migrations returns the recorded domain changes, oldest first.
func (t *Thread) Migrations() []Migration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.migrations)
}

// Notifications returns the number of debug notifications sent on relax.
func (t *Thread) Notifications() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notifications
}

// Cancelled reports whether cooperative cancellation ran for the thread.
func (t *Thread) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Privileged reports whether the thread holds the real-time privilege.
func (t *Thread) Privileged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.privileged
}

// SetPrivilege changes the real-time privilege of the thread.
func (t *Thread) SetPrivilege(granted bool) {
	t.mu.Lock()
	t.privileged = granted
	t.mu.Unlock()
}

// Signal queues a host signal. A bound thread is kicked out of any
// control-domain wait, as the real-time scheduler would do.
func (t *Thread) Signal() {
	t.mu.Lock()
	t.pending++
	rt := t.rt
	t.mu.Unlock()
	if rt != nil {
		rt.SetInfo(rtthread.Kicked | rtthread.Break)
	}
}

// Kick forces the thread out of a wait without a host signal.
func (t *Thread) Kick() {
	if rt := t.RT(); rt != nil {
		rt.SetInfo(rtthread.Kicked)
	}
}

// RequestCancel flags a cancellation request on the bound thread.
func (t *Thread) RequestCancel() {
	if rt := t.RT(); rt != nil {
		rt.SetInfo(rtthread.Cancelled)
	}
}

// FailNextHarden makes the next attempt to enter the control domain fail
// with err. Failures queue up in order.
func (t *Thread) FailNextHarden(err error) {
	t.mu.Lock()
	t.hardenFailures = append(t.hardenFailures, err)
	t.mu.Unlock()
}

// ReturnToUser models the return from a call: a relaxed thread gets its
// pending host signals delivered.
func (t *Thread) ReturnToUser() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.domain == dispatch.DomainRelaxed {
		t.delivered += t.pending
		t.pending = 0
	}
}

func (t *Thread) record(m Migration) {
	t.migrations = append(t.migrations, m)
	if m.Notify {
		t.notifications++
	}
}
