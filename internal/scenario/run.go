// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/invowk/cokernel/internal/calls"
	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/internal/features"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/internal/sim"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

type (
	// Options configure a scenario run.
	Options struct {
		Logger *log.Logger
		// Dispatch is passed to the engine. Its Logger defaults to Logger.
		Dispatch dispatch.Config
		// Offer defaults to the default feature set at the current ABI
		// revision.
		Offer   features.Offer
		Sysconf calls.Sysconf
		// Privileges replaces the per-thread privilege setting when set.
		Privileges dispatch.Privileges
	}

	// Outcome is the result of one step.
	Outcome struct {
		Index       int
		Thread      string
		Call        string
		Status      abi.Status
		Disposition dispatch.Disposition
		Domain      dispatch.Domain
		Invocations []dispatch.Domain
		Cancelled   bool
		Failures    []string
	}

	// Report collects the outcomes of a run.
	Report struct {
		Name     string
		Outcomes []Outcome
		Stats    dispatch.Stats
	}

	// probe records the handler invocations of the current step and fires
	// its mid-call injection on the first one.
	probe struct {
		mu     sync.Mutex
		during *Injection
		trace  []dispatch.Domain
	}

	// script serves one scripted call, consuming its results in order.
	script struct {
		probe   *probe
		mu      sync.Mutex
		results []abi.Status
	}
)

// Passed reports whether every expectation of the step held.
func (o Outcome) Passed() bool { return len(o.Failures) == 0 }

// Passed reports whether every step passed.
func (r *Report) Passed() bool { return len(r.Failed()) == 0 }

// Failed returns the outcomes with at least one unmet expectation.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Passed() {
			out = append(out, o)
		}
	}
	return out
}

func (p *probe) reset(during *Injection) {
	p.mu.Lock()
	p.during = during
	p.trace = nil
	p.mu.Unlock()
}

func (p *probe) hit(th *sim.Thread) {
	p.mu.Lock()
	during := p.during
	p.during = nil
	if th != nil {
		p.trace = append(p.trace, th.Domain())
	}
	p.mu.Unlock()
	if during != nil && th != nil {
		inject(th, during)
	}
}

func (p *probe) invocations() []dispatch.Domain {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.trace)
}

func (s *script) serve(ctx context.Context, _ *systab.Request) abi.Status {
	s.probe.hit(sim.ThreadFrom(ctx))
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return abi.StatusOK
	}
	st := s.results[0]
	s.results = s.results[1:]
	return st
}

func inject(th *sim.Thread, in *Injection) {
	if in.Signal {
		th.Signal()
	}
	if in.Kick {
		th.Kick()
	}
	if in.Cancel {
		th.RequestCancel()
	}
	if in.FailHarden {
		th.FailNextHarden(nil)
	}
}

// Run executes the steps of sc in order against a fresh simulated kernel.
// Expectation failures are reported in the Report; the error is for
// scenarios that cannot be set up.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	offer := opts.Offer
	if offer.Supported == 0 && offer.ABIRev == 0 {
		offer = features.Offer{Supported: features.Default, ABIRev: features.ABIRevision}
	}

	var kopts []sim.KernelOption
	if opts.Privileges != nil {
		kopts = append(kopts, sim.WithPrivilegeSource(opts.Privileges))
	}
	k := sim.NewKernel(kopts...)

	threads, err := spawnThreads(ctx, k, sc.Threads, offer)
	if err != nil {
		return nil, err
	}

	pr := &probe{}
	table, err := buildTable(k, sc, opts, offer, logger, pr)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}

	dcfg := opts.Dispatch
	if dcfg.Logger == nil {
		dcfg.Logger = logger
	}
	engine, err := dispatch.New(table, k.Collaborators(), dcfg)
	if err != nil {
		return nil, err
	}

	report := &Report{Name: sc.Name}
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scenario %q interrupted at step %d: %w", sc.Name, i, err)
		}
		th := threads[step.Thread]
		report.Outcomes = append(report.Outcomes, runStep(ctx, engine, th, pr, i, step))
		logger.Debug("step done", "index", i, "thread", step.Thread, "status", report.Outcomes[i].Status)
	}
	report.Stats = engine.Stats()
	return report, nil
}

func spawnThreads(ctx context.Context, k *sim.Kernel, decls []Thread, offer features.Offer) (map[string]*sim.Thread, error) {
	threads := make(map[string]*sim.Thread, len(decls))
	for _, decl := range decls {
		opts := []sim.ThreadOption{sim.WithPID(decl.PID), sim.WithPrivilege(decl.Privileged)}
		var th *sim.Thread
		if decl.Shadow {
			if decl.Domain == "control" {
				opts = append(opts, sim.WithDomain(dispatch.DomainControl))
			}
			th = k.SpawnBound(decl.Name, stateFlags(decl.State), opts...)
			for range decl.Resources {
				th.RT().AcquireResource()
			}
		} else {
			th = k.Spawn(decl.Name, opts...)
		}
		if decl.bindsProcess() {
			info := features.Info{All: offer.Supported, Req: offer.Supported & features.Mandatory, ABIRev: offer.ABIRev}
			if _, err := k.BindProcess(sim.WithThread(ctx, th), info); err != nil {
				return nil, fmt.Errorf("bind process of %s: %w", decl.Name, err)
			}
		}
		threads[decl.Name] = th
	}
	return threads, nil
}

func stateFlags(names []string) rtthread.State {
	var s rtthread.State
	for _, n := range names {
		switch n {
		case "weak":
			s |= rtthread.Weak
		case "debug":
			s |= rtthread.Debug
		case "dormant":
			s |= rtthread.Dormant
		}
	}
	return s
}

// buildTable registers the core calls, the scripted handlers and a
// recorder answering OK for every other well-known call the steps use.
func buildTable(k *sim.Kernel, sc *Scenario, opts Options, offer features.Offer, logger *log.Logger, pr *probe) (*systab.Table, error) {
	b, err := calls.Register(systab.NewBuilder(), calls.Deps{
		Migrator:  k,
		Processes: k,
		Logger:    logger,
		Offer:     offer,
		Sysconf:   opts.Sysconf,
	})
	if err != nil {
		return nil, err
	}

	scripted := make(map[abi.CallID]bool)
	for _, h := range sc.Handlers {
		id, err := systab.LookupName(h.Call)
		if err != nil {
			return nil, err
		}
		s := &script{probe: pr}
		for _, r := range h.Results {
			st, err := abi.ParseStatus(r)
			if err != nil {
				return nil, err
			}
			s.results = append(s.results, st)
		}
		if h.Mode != "" {
			mode, err := execmode.Parse(h.Mode)
			if err != nil {
				return nil, err
			}
			b.RegisterWithMode(id, mode, s.serve)
		} else {
			b.Register(id, s.serve)
		}
		scripted[id] = true
	}

	for _, st := range sc.Steps {
		if st.Call == "" {
			continue
		}
		id, err := systab.LookupName(st.Call)
		if err != nil {
			return nil, err
		}
		if scripted[id] || calls.IsCore(id) || !systab.IsWellKnown(id) {
			continue
		}
		b.Register(id, (&script{probe: pr}).serve)
		scripted[id] = true
	}
	return b.Build()
}

func runStep(ctx context.Context, engine *dispatch.Engine, th *sim.Thread, pr *probe, index int, step Step) Outcome {
	if step.Before != nil {
		inject(th, step.Before)
	}
	pr.reset(step.During)

	args := make([]uint64, len(step.Args))
	for i, a := range step.Args {
		args[i] = uint64(a)
	}

	out := Outcome{Index: index, Thread: step.Thread}
	var frame *abi.Regs
	if step.Host != nil {
		out.Call = fmt.Sprintf("host(%d)", *step.Host)
		frame = abi.NewHostCall(uint64(*step.Host), args...)
	} else {
		id, _ := systab.LookupName(step.Call)
		out.Call = systab.CallName(id)
		frame = abi.NewCall(id, args...)
	}

	wasCancelled := th.Cancelled()
	out.Disposition = engine.Dispatch(sim.WithThread(ctx, th), frame)
	th.ReturnToUser()

	out.Status = frame.Status()
	out.Domain = th.Domain()
	out.Invocations = pr.invocations()
	out.Cancelled = th.Cancelled() && !wasCancelled
	out.Failures = check(step.Expect, out, th)
	return out
}

func check(exp *Expect, out Outcome, th *sim.Thread) []string {
	if exp == nil {
		return nil
	}
	var failures []string
	if exp.Status != nil {
		want, _ := abi.ParseStatus(*exp.Status)
		if out.Status != want {
			failures = append(failures, fmt.Sprintf("status = %s, want %s", out.Status, want))
		}
	}
	if exp.Disposition != nil && out.Disposition.String() != *exp.Disposition {
		failures = append(failures, fmt.Sprintf("disposition = %s, want %s", out.Disposition, *exp.Disposition))
	}
	if exp.Domain != nil && out.Domain.String() != *exp.Domain {
		failures = append(failures, fmt.Sprintf("domain = %s, want %s", out.Domain, *exp.Domain))
	}
	if exp.Invocations != nil {
		got := make([]string, len(out.Invocations))
		for i, d := range out.Invocations {
			got[i] = d.String()
		}
		if !slices.Equal(got, exp.Invocations) {
			failures = append(failures, fmt.Sprintf("invocations = [%s], want [%s]",
				strings.Join(got, " "), strings.Join(exp.Invocations, " ")))
		}
	}
	if exp.Cancelled != nil && out.Cancelled != *exp.Cancelled {
		failures = append(failures, fmt.Sprintf("cancelled = %v, want %v", out.Cancelled, *exp.Cancelled))
	}
	if exp.DeliveredSignals != nil && th.DeliveredSignals() != *exp.DeliveredSignals {
		failures = append(failures, fmt.Sprintf("delivered signals = %d, want %d", th.DeliveredSignals(), *exp.DeliveredSignals))
	}
	return failures
}
