// SPDX-License-Identifier: MPL-2.0

// Package rtthread holds the real-time thread control block and the
// per-process binding record, as far as the dispatch engine sees them.
//
// Both are owned by the real-time subsystem. The engine only reads and
// clears a handful of flags, so every field that can change concurrently
// with a dispatch (a supervisor kicking the thread, a canceller flagging it)
// is stored atomically.
package rtthread

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Information flags: transient conditions raised by other parties.
const (
	// Kicked means the thread was forced out of a wait by a supervisor.
	Kicked Info = 1 << iota
	// Cancelled means a cancellation request is pending.
	Cancelled
	// Break means a wait was broken; cleared when a signal is reported.
	Break
)

// State flags: long-lived scheduling attributes.
const (
	// Dormant threads were created but not started.
	Dormant State = 1 << iota
	// Weak threads may run unbounded time in the relaxed domain.
	Weak
	// Debug threads are observed by a debugger; relax notifications are muted.
	Debug
)

type (
	// Info is a set of information flags.
	Info uint32

	// State is a set of state flags.
	State uint32

	// Handle is the registry handle of a thread, as returned to callers.
	Handle uint32

	// TrapSite is the return site saved when a thread is diverted to the
	// one-way trap, restored by the trap handler.
	TrapSite struct {
		IP     uint64
		Result uint64
	}

	// Window is the user-visible snapshot published after every call.
	Window struct {
		Info  Info
		State State
		Calls uint64
	}

	// Thread is a real-time thread control block.
	Thread struct {
		name   string
		handle Handle

		info     atomic.Uint32
		state    atomic.Uint32
		resCount atomic.Int32
		calls    atomic.Uint64

		mu     sync.Mutex
		trap   TrapSite
		window Window
	}
)

// NewThread creates a control block with the given initial state flags.
func NewThread(name string, handle Handle, state State) *Thread {
	t := &Thread{name: name, handle: handle}
	t.state.Store(uint32(state))
	return t
}

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Handle returns the registry handle.
func (t *Thread) Handle() Handle { return t.handle }

// TestInfo reports whether any of the given info flags is set.
func (t *Thread) TestInfo(f Info) bool { return Info(t.info.Load())&f != 0 }

// SetInfo raises info flags.
func (t *Thread) SetInfo(f Info) { t.info.Or(uint32(f)) }

// ClearInfo clears info flags and reports whether any of them was set.
func (t *Thread) ClearInfo(f Info) bool { return Info(t.info.And(^uint32(f)))&f != 0 }

// TestState reports whether any of the given state flags is set.
func (t *Thread) TestState(f State) bool { return State(t.state.Load())&f != 0 }

// SetState raises state flags.
func (t *Thread) SetState(f State) { t.state.Or(uint32(f)) }

// ClearState clears state flags.
func (t *Thread) ClearState(f State) { t.state.And(^uint32(f)) }

// ResCount returns the number of nested resources currently held.
func (t *Thread) ResCount() int32 { return t.resCount.Load() }

// AcquireResource bumps the resource-nesting counter.
func (t *Thread) AcquireResource() { t.resCount.Add(1) }

// ReleaseResource drops the resource-nesting counter, never below zero.
func (t *Thread) ReleaseResource() {
	for {
		n := t.resCount.Load()
		if n == 0 || t.resCount.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// IsWeakIdle reports a weak thread holding no nested resources.
func (t *Thread) IsWeakIdle() bool { return t.TestState(Weak) && t.ResCount() == 0 }

// CountCall increments the per-thread call counter.
func (t *Thread) CountCall() { t.calls.Add(1) }

// Calls returns the number of calls handled for this thread.
func (t *Thread) Calls() uint64 { return t.calls.Load() }

// SaveTrapSite records the return site before diverting to the trap.
func (t *Thread) SaveTrapSite(site TrapSite) {
	t.mu.Lock()
	t.trap = site
	t.mu.Unlock()
}

// TrapSite returns the saved trap return site.
func (t *Thread) TrapSite() TrapSite {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trap
}

// SyncWindow publishes the current flags and counters.
func (t *Thread) SyncWindow() {
	w := Window{
		Info:  Info(t.info.Load()),
		State: State(t.state.Load()),
		Calls: t.calls.Load(),
	}
	t.mu.Lock()
	t.window = w
	t.mu.Unlock()
}

// Window returns the last published snapshot.
func (t *Thread) Window() Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window
}

func (f Info) String() string {
	return joinFlags(uint32(f), []string{"kicked", "cancelled", "break"})
}

func (f State) String() string {
	return joinFlags(uint32(f), []string{"dormant", "weak", "debug"})
}

func joinFlags(v uint32, names []string) string {
	if v == 0 {
		return "none"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
