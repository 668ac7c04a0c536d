// SPDX-License-Identifier: MPL-2.0

package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/internal/sim"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	table, err := systab.NewBuilder().Build()
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	k := sim.NewKernel()

	if _, err := dispatch.New(nil, k.Collaborators(), dispatch.Config{}); !errors.Is(err, dispatch.ErrNoTable) {
		t.Errorf("New(nil table) error = %v, want ErrNoTable", err)
	}

	co := k.Collaborators()
	co.Signals = nil
	if _, err := dispatch.New(table, co, dispatch.Config{}); !errors.Is(err, dispatch.ErrMissingCollaborator) {
		t.Errorf("New(no signals) error = %v, want ErrMissingCollaborator", err)
	}
}

func TestDispatch_OutOfRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
	f.bindProcess(t, th)

	// 0x10000000+id sets bit 28 and must not alias id.
	for _, id := range []abi.CallID{systab.NrCalls, systab.NrCalls + 40, -1, 0x10000000 + systab.SysSemPost} {
		d, frame := f.call(th, id)
		if d != dispatch.Handled {
			t.Errorf("Dispatch(%d) = %s, want handled", id, d)
		}
		if got := frame.Status(); got != abi.StatusNotImplemented {
			t.Errorf("Dispatch(%d) status = %s, want ENOSYS", id, got)
		}
	}
	for id, r := range f.handlers {
		if n := len(r.invocations()); n != 0 {
			t.Errorf("handler %d invoked %d times for out-of-range calls", id, n)
		}
	}
	if got := f.engine.Stats().BadCalls; got != 4 {
		t.Errorf("Stats().BadCalls = %d, want 4", got)
	}
	if got := th.Domain(); got != dispatch.DomainControl {
		t.Errorf("domain = %s, want control", got)
	}
}

func TestHandleRelaxed_OutOfRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	th := f.k.Spawn("host", sim.WithPrivilege(true))
	frame := abi.NewCall(systab.NrCalls)
	if d := f.engine.HandleRelaxed(sim.WithThread(context.Background(), th), frame); d != dispatch.Handled {
		t.Errorf("HandleRelaxed() = %s, want handled", d)
	}
	if frame.Status() != abi.StatusNotImplemented {
		t.Errorf("status = %s, want ENOSYS", frame.Status())
	}
}

func TestDispatch_PermissionGate(t *testing.T) {
	t.Parallel()

	t.Run("binding required", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		th := f.k.Spawn("unbound", sim.WithPrivilege(true))
		f.bindProcess(t, th)

		d, frame := f.call(th, systab.SysSemWait)
		if d != dispatch.Handled || frame.Status() != abi.StatusPermissionDenied {
			t.Errorf("sem_wait without binding = %s/%s, want handled/EPERM", d, frame.Status())
		}
		if n := len(f.handlers[systab.SysSemWait].invocations()); n != 0 {
			t.Errorf("handler invoked %d times, want 0", n)
		}
		if got := f.engine.Stats().Denied; got != 1 {
			t.Errorf("Stats().Denied = %d, want 1", got)
		}
	})

	t.Run("bind exempt from process and privilege", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		th := f.k.Spawn("newcomer")

		d, frame := f.call(th, systab.SysBind)
		if d != dispatch.Handled || frame.Status() != abi.StatusOK {
			t.Fatalf("bind = %s/%s, want handled/OK", d, frame.Status())
		}
		if got := f.handlers[systab.SysBind].invocations(); len(got) != 1 || got[0] != dispatch.DomainRelaxed {
			t.Errorf("bind invocations = %v, want one in relaxed", got)
		}

		_, frame = f.call(th, systab.SysSemPost)
		if frame.Status() != abi.StatusPermissionDenied {
			t.Errorf("sem_post without process = %s, want EPERM", frame.Status())
		}

		f.bindProcess(t, th)
		_, frame = f.call(th, systab.SysSemPost)
		if frame.Status() != abi.StatusPermissionDenied {
			t.Errorf("sem_post without privilege = %s, want EPERM", frame.Status())
		}
		if n := len(f.handlers[systab.SysSemPost].invocations()); n != 0 {
			t.Errorf("sem_post handler invoked %d times, want 0", n)
		}
	})
}

func TestDispatch_ConformingResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bound bool
		want  dispatch.Domain
	}{
		{"bound caller runs in control", true, dispatch.DomainControl},
		{"unbound caller runs relaxed", false, dispatch.DomainRelaxed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			var th *sim.Thread
			if tt.bound {
				th = f.k.SpawnBound("rt", 0, sim.WithPrivilege(true))
			} else {
				th = f.k.Spawn("host", sim.WithPrivilege(true))
			}
			f.bindProcess(t, th)

			for range 2 {
				if _, frame := f.call(th, systab.SysThreadKill); frame.Status() != abi.StatusOK {
					t.Fatalf("thread_kill status = %s, want OK", frame.Status())
				}
				if tt.bound {
					// Leave the control domain so both calls start alike.
					f.k.EnterRelaxed(sim.WithThread(context.Background(), th), false, dispatch.CauseNone)
				}
			}
			got := f.handlers[systab.SysThreadKill].invocations()
			if len(got) != 2 || got[0] != tt.want || got[1] != tt.want {
				t.Errorf("invocations = %v, want [%s %s]", got, tt.want, tt.want)
			}
		})
	}
}

func TestDispatch_AdaptiveRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		id          abi.CallID
		results     []abi.Status
		wantStatus  abi.Status
		wantDomains []dispatch.Domain
		wantFinal   dispatch.Domain
	}{
		{
			name:        "probing retries relaxed",
			id:          systab.SysRead,
			results:     []abi.Status{abi.StatusNotSupported, 5},
			wantStatus:  5,
			wantDomains: []dispatch.Domain{dispatch.DomainControl, dispatch.DomainRelaxed},
			wantFinal:   dispatch.DomainRelaxed,
		},
		{
			name:        "second refusal is surfaced",
			id:          systab.SysRead,
			results:     []abi.Status{abi.StatusNotSupported, abi.StatusNotSupported},
			wantStatus:  abi.StatusNotSupported,
			wantDomains: []dispatch.Domain{dispatch.DomainControl, dispatch.DomainRelaxed},
			wantFinal:   dispatch.DomainRelaxed,
		},
		{
			name:        "relaxed adaptive hardens back",
			id:          slotRelaxedAdaptive,
			results:     []abi.Status{abi.StatusNotSupported, 7},
			wantStatus:  7,
			wantDomains: []dispatch.Domain{dispatch.DomainRelaxed, dispatch.DomainControl},
			wantFinal:   dispatch.DomainControl,
		},
		{
			name:        "relaxed adaptive with switch-back",
			id:          slotRelaxedAdaptiveSwitchBack,
			results:     []abi.Status{abi.StatusNotSupported, 7},
			wantStatus:  7,
			wantDomains: []dispatch.Domain{dispatch.DomainRelaxed, dispatch.DomainControl},
			wantFinal:   dispatch.DomainControl,
		},
		{
			name:        "success needs no retry",
			id:          slotRelaxedAdaptive,
			results:     []abi.Status{3},
			wantStatus:  3,
			wantDomains: []dispatch.Domain{dispatch.DomainRelaxed},
			wantFinal:   dispatch.DomainRelaxed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
			f.bindProcess(t, th)
			r := f.script(tt.id, tt.results...)

			d, frame := f.call(th, tt.id)
			if d != dispatch.Handled {
				t.Fatalf("Dispatch() = %s, want handled", d)
			}
			if got := frame.Status(); got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
			got := r.invocations()
			if len(got) != len(tt.wantDomains) {
				t.Fatalf("invocations = %v, want %v", got, tt.wantDomains)
			}
			for i := range got {
				if got[i] != tt.wantDomains[i] {
					t.Errorf("invocation %d in %s, want %s", i, got[i], tt.wantDomains[i])
				}
			}
			if got := th.Domain(); got != tt.wantFinal {
				t.Errorf("final domain = %s, want %s", got, tt.wantFinal)
			}
		})
	}
}

func TestDispatch_AdaptiveHardenFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
	f.bindProcess(t, th)
	r := f.script(slotRelaxedAdaptive, abi.StatusNotSupported)
	th.FailNextHarden(nil)

	_, frame := f.call(th, slotRelaxedAdaptive)
	if got := frame.Status(); got != abi.StatusMigrationFailed {
		t.Errorf("status = %s, want EAGAIN", got)
	}
	if n := len(r.invocations()); n != 1 {
		t.Errorf("handler invoked %d times, want 1", n)
	}
}

func TestDispatch_SwitchBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		id          abi.CallID
		start       dispatch.Domain
		wantHandler dispatch.Domain
	}{
		{"relaxed call from control", slotDownUp, dispatch.DomainControl, dispatch.DomainRelaxed},
		{"control call from relaxed", slotControlSwitchBack, dispatch.DomainRelaxed, dispatch.DomainControl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(tt.start))
			f.bindProcess(t, th)

			_, frame := f.call(th, tt.id)
			if frame.Status() != abi.StatusOK {
				t.Fatalf("status = %s, want OK", frame.Status())
			}
			if got := f.handlers[tt.id].invocations(); len(got) != 1 || got[0] != tt.wantHandler {
				t.Errorf("invocations = %v, want one in %s", got, tt.wantHandler)
			}
			if got := th.Domain(); got != tt.start {
				t.Errorf("final domain = %s, want original %s", got, tt.start)
			}
		})
	}
}

func TestDispatch_InterpositionOverridesSwitchBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		id         abi.CallID
		wantStatus abi.Status
	}{
		// The signal lands while the handler runs in control: interposed.
		{"control call", slotControlSwitchBack, abi.StatusRestart},
		// The signal lands while relaxed: the harden back is refused.
		{"relaxed call", slotDownUp, abi.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
			f.bindProcess(t, th)
			f.handlers[tt.id].during = func(context.Context) { th.Signal() }

			_, frame := f.call(th, tt.id)
			if got := frame.Status(); got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
			if got := th.Domain(); got != dispatch.DomainRelaxed {
				t.Errorf("final domain = %s, want relaxed", got)
			}
			if got := th.DeliveredSignals(); got != 1 {
				t.Errorf("delivered signals = %d, want 1", got)
			}
		})
	}
}

func TestDispatch_SignalInterposition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		id         abi.CallID
		state      rtthread.State
		signal     bool
		wantStatus abi.Status
		wantNotify int
	}{
		{"restartable wait", systab.SysSemWait, 0, true, abi.StatusRestart, 1},
		{"interrupted sleep", systab.SysClockNanosleep, 0, true, abi.StatusInterrupted, 1},
		{"debugged thread is not notified", systab.SysClockNanosleep, rtthread.Debug, true, abi.StatusInterrupted, 0},
		{"kick without signal keeps status", systab.SysSemWait, 0, false, abi.Status(2), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("rt", tt.state, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
			f.bindProcess(t, th)
			r := f.script(tt.id, 2)
			r.during = func(context.Context) {
				if tt.signal {
					th.Signal()
				} else {
					th.Kick()
				}
			}

			_, frame := f.call(th, tt.id)
			if got := frame.Status(); got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
			if got := th.Domain(); got != dispatch.DomainRelaxed {
				t.Errorf("final domain = %s, want relaxed", got)
			}
			if th.RT().TestInfo(rtthread.Kicked | rtthread.Break) {
				t.Errorf("info = %s, want kicked and break cleared", th.RT().Window().Info)
			}
			if got := th.Notifications(); got != tt.wantNotify {
				t.Errorf("notifications = %d, want %d", got, tt.wantNotify)
			}
			migs := th.Migrations()
			if len(migs) != 1 || migs[0].Cause != dispatch.CauseSignal {
				t.Errorf("migrations = %+v, want one relax for signal", migs)
			}
		})
	}
}

func TestDispatch_HardenFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		inject func(*sim.Thread)
		want   abi.Status
	}{
		{"typed migration error", func(th *sim.Thread) {
			th.FailNextHarden(&abi.StatusError{Status: abi.StatusMigrationFailed, Op: "harden"})
		}, abi.StatusMigrationFailed},
		{"untyped migration error", func(th *sim.Thread) {
			th.FailNextHarden(errors.New("scheduler refused"))
		}, abi.StatusMigrationFailed},
		{"signal pending", func(th *sim.Thread) { th.Signal() }, abi.StatusRestart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true))
			f.bindProcess(t, th)
			tt.inject(th)

			d, frame := f.call(th, systab.SysSemWait)
			if d != dispatch.Handled || frame.Status() != tt.want {
				t.Errorf("sem_wait = %s/%s, want handled/%s", d, frame.Status(), tt.want)
			}
			if n := len(f.handlers[systab.SysSemWait].invocations()); n != 0 {
				t.Errorf("handler invoked %d times, want 0", n)
			}
			if got := th.Domain(); got != dispatch.DomainRelaxed {
				t.Errorf("final domain = %s, want relaxed", got)
			}
		})
	}
}

func TestDispatch_Cancellation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		id          abi.CallID
		start       dispatch.Domain
		privileged  bool
		before      bool
		during      func(*sim.Thread)
		wantInvoked int
	}{
		{"pending at relaxed entry", systab.SysSemWait, dispatch.DomainRelaxed, true, true, nil, 0},
		{"pending in control", systab.SysSemPost, dispatch.DomainControl, true, true, nil, 1},
		{"wins over signal", systab.SysSemWait, dispatch.DomainControl, true, false, func(th *sim.Thread) {
			th.Signal()
			th.RequestCancel()
		}, 1},
		{"denied call", systab.SysSemPost, dispatch.DomainControl, false, true, nil, 0},
		{"out-of-range call", systab.NrCalls, dispatch.DomainControl, true, true, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(tt.privileged), sim.WithDomain(tt.start))
			f.bindProcess(t, th)
			if tt.before {
				th.RequestCancel()
			}
			if tt.during != nil {
				f.handlers[tt.id].during = func(context.Context) { tt.during(th) }
			}

			d, frame := f.call(th, tt.id)
			if d != dispatch.Handled || frame.Status() != abi.StatusCancelled {
				t.Errorf("call = %s/%s, want handled/ECANCELED", d, frame.Status())
			}
			if r := f.handlers[tt.id]; r != nil {
				if n := len(r.invocations()); n != tt.wantInvoked {
					t.Errorf("handler invoked %d times, want %d", n, tt.wantInvoked)
				}
			}
			if th.RT().TestInfo(rtthread.Cancelled | rtthread.Kicked) {
				t.Errorf("info = %s after the call, want cancelled and kicked cleared", th.RT().Window().Info)
			}
			if !th.Cancelled() {
				t.Error("cooperative cancellation did not run")
			}
			if got := th.Domain(); got != dispatch.DomainRelaxed {
				t.Errorf("final domain = %s, want relaxed", got)
			}
		})
	}
}

func TestDispatch_KickWithoutSignal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		start      dispatch.Domain
		wantDomain dispatch.Domain
		wantKicked bool
		wantSignal bool
	}{
		// The relaxed stage only reacts to host signals.
		{"relaxed stage ignores the kick", dispatch.DomainRelaxed, dispatch.DomainControl, true, false},
		{"control stage relaxes on the kick", dispatch.DomainControl, dispatch.DomainRelaxed, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(tt.start))
			f.bindProcess(t, th)
			f.handlers[systab.SysSemWait].during = func(context.Context) { th.Kick() }

			_, frame := f.call(th, systab.SysSemWait)
			if frame.Status() != abi.StatusOK {
				t.Errorf("status = %s, want OK", frame.Status())
			}
			if got := th.Domain(); got != tt.wantDomain {
				t.Errorf("final domain = %s, want %s", got, tt.wantDomain)
			}
			if got := th.RT().TestInfo(rtthread.Kicked); got != tt.wantKicked {
				t.Errorf("kicked = %v, want %v", got, tt.wantKicked)
			}
			relaxedForSignal := false
			for _, m := range th.Migrations() {
				if m.Cause == dispatch.CauseSignal {
					relaxedForSignal = true
				}
			}
			if relaxedForSignal != tt.wantSignal {
				t.Errorf("relaxed for signal = %v, want %v (migrations %+v)", relaxedForSignal, tt.wantSignal, th.Migrations())
			}
			if got := f.engine.Stats().Interrupted; got != 0 {
				t.Errorf("Stats().Interrupted = %d, want 0", got)
			}
		})
	}
}

func TestDispatch_WeakThreads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		id        abi.CallID
		start     dispatch.Domain
		resources int
		want      dispatch.Domain
	}{
		{"hardened by relaxed stage", systab.SysSemWait, dispatch.DomainRelaxed, 0, dispatch.DomainRelaxed},
		{"served by control stage", systab.SysSemPost, dispatch.DomainControl, 0, dispatch.DomainRelaxed},
		{"holding a resource stays", systab.SysSemWait, dispatch.DomainRelaxed, 1, dispatch.DomainControl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			th := f.k.SpawnBound("weak", rtthread.Weak, sim.WithPrivilege(true), sim.WithDomain(tt.start))
			f.bindProcess(t, th)
			for range tt.resources {
				th.RT().AcquireResource()
			}

			_, frame := f.call(th, tt.id)
			if frame.Status() != abi.StatusOK {
				t.Fatalf("status = %s, want OK", frame.Status())
			}
			if got := f.handlers[tt.id].invocations(); len(got) != 1 || got[0] != dispatch.DomainControl {
				t.Errorf("invocations = %v, want one in control", got)
			}
			if got := th.Domain(); got != tt.want {
				t.Errorf("final domain = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDispatch_HostCalls(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rt := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
	host := f.k.Spawn("host")

	for _, th := range []*sim.Thread{rt, host} {
		ctx := sim.WithThread(context.Background(), th)
		if d := f.engine.Dispatch(ctx, abi.NewHostCall(39)); d != dispatch.Propagate {
			t.Errorf("%s: Dispatch(host call) = %s, want propagate", th.Name(), d)
		}
	}

	migs := rt.Migrations()
	if len(migs) != 1 || !migs[0].Notify || migs[0].Cause != dispatch.CauseCall {
		t.Errorf("rt migrations = %+v, want one notified relax for call", migs)
	}
	if len(host.Migrations()) != 0 {
		t.Errorf("host thread migrated: %+v", host.Migrations())
	}
}

func TestDispatch_StatsAndWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
	f.bindProcess(t, th)

	for range 3 {
		f.call(th, systab.SysSemPost)
	}
	if got := th.RT().Calls(); got != 3 {
		t.Errorf("Calls() = %d, want 3", got)
	}
	if got := th.RT().Window().Calls; got != 3 {
		t.Errorf("Window().Calls = %d, want 3", got)
	}
	if got := f.engine.Stats().Handled; got != 3 {
		t.Errorf("Stats().Handled = %d, want 3", got)
	}
}

func TestDispatch_ConcurrentThreads(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	const threads, iterations = 8, 100

	var wg sync.WaitGroup
	all := make([]*sim.Thread, threads)
	for i := range threads {
		th := f.k.SpawnBound("rt", 0, sim.WithPrivilege(true), sim.WithDomain(dispatch.DomainControl))
		all[i] = th
		if i == 0 {
			f.bindProcess(t, th)
		}
	}
	for _, th := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iterations {
				id := systab.SysSemPost
				if i%2 == 1 {
					id = slotDownUp
				}
				f.call(th, id)
			}
		}()
	}
	wg.Wait()

	for _, th := range all {
		if got := th.RT().Calls(); got != iterations {
			t.Errorf("%s: Calls() = %d, want %d", th.Name(), got, iterations)
		}
		if got := th.Domain(); got != dispatch.DomainControl {
			t.Errorf("%s: final domain = %s, want control", th.Name(), got)
		}
	}
}
