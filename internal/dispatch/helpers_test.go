// SPDX-License-Identifier: MPL-2.0

package dispatch_test

import (
	"context"
	"sync"
	"testing"

	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/internal/features"
	"github.com/invowk/cokernel/internal/sim"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

// Extension slots used by tests that need modes no well-known call has.
const (
	slotRelaxedAdaptive abi.CallID = 100 + iota
	slotRelaxedAdaptiveSwitchBack
	slotDownUp
	slotControlSwitchBack
	slotPlain
)

type (
	// recorder is a scripted handler: it returns the queued statuses in
	// order (then StatusOK) and records the domain of every invocation.
	recorder struct {
		k *sim.Kernel

		mu      sync.Mutex
		results []abi.Status
		domains []dispatch.Domain
		during  func(ctx context.Context)
	}

	fixture struct {
		k        *sim.Kernel
		engine   *dispatch.Engine
		handlers map[abi.CallID]*recorder
	}
)

func (r *recorder) handle(ctx context.Context, _ *systab.Request) abi.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains = append(r.domains, r.k.CurrentDomain(ctx))
	if r.during != nil {
		r.during(ctx)
	}
	if len(r.results) == 0 {
		return abi.StatusOK
	}
	st := r.results[0]
	r.results = r.results[1:]
	return st
}

func (r *recorder) invocations() []dispatch.Domain {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Domain(nil), r.domains...)
}

// newFixture builds an engine over a simulated kernel with scripted
// handlers on a set of well-known calls and on the extension slots.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	k := sim.NewKernel()
	f := &fixture{k: k, handlers: make(map[abi.CallID]*recorder)}

	b := systab.NewBuilder()
	for _, id := range []abi.CallID{
		systab.SysSemWait, systab.SysSemPost, systab.SysThreadKill,
		systab.SysRead, systab.SysClockNanosleep, systab.SysMqOpen, systab.SysBind,
	} {
		r := &recorder{k: k}
		f.handlers[id] = r
		b.Register(id, r.handle)
	}
	for id, mode := range map[abi.CallID]execmode.Flags{
		slotRelaxedAdaptive:           execmode.RunInRelaxed | execmode.Adaptive,
		slotRelaxedAdaptiveSwitchBack: execmode.RunInRelaxed | execmode.Adaptive | execmode.SwitchBack,
		slotDownUp:                    execmode.DownUp,
		slotControlSwitchBack:         execmode.RunInControl | execmode.SwitchBack,
		slotPlain:                     0,
	} {
		r := &recorder{k: k}
		f.handlers[id] = r
		b.RegisterWithMode(id, mode, r.handle)
	}

	table, err := b.Build()
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	engine, err := dispatch.New(table, k.Collaborators(), dispatch.Config{WarnDenied: true})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	f.engine = engine
	return f
}

// script queues results for the handler of id.
func (f *fixture) script(id abi.CallID, results ...abi.Status) *recorder {
	r := f.handlers[id]
	r.results = append(r.results, results...)
	return r
}

// bindProcess creates the process binding for th's process.
func (f *fixture) bindProcess(t *testing.T, th *sim.Thread) {
	t.Helper()
	ctx := sim.WithThread(context.Background(), th)
	if _, err := f.k.BindProcess(ctx, features.Info{All: features.Default}); err != nil {
		t.Fatalf("BindProcess() unexpected error: %v", err)
	}
}

// call dispatches id on behalf of th and returns the disposition and frame.
func (f *fixture) call(th *sim.Thread, id abi.CallID, args ...uint64) (dispatch.Disposition, *abi.Regs) {
	frame := abi.NewCall(id, args...)
	ctx := sim.WithThread(context.Background(), th)
	d := f.engine.Dispatch(ctx, frame)
	th.ReturnToUser()
	return d, frame
}
