// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/cokernel/internal/calls"
	"github.com/invowk/cokernel/internal/config"
	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/features"
	"github.com/invowk/cokernel/internal/sim"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

// ErrInvalidSwitchtestOptions is returned for non-positive thread or
// iteration counts.
var ErrInvalidSwitchtestOptions = errors.New("invalid switchtest options")

type (
	switchtestOptions struct {
		threads    int
		iterations int
	}

	switchtestResult struct {
		switches uint64
		elapsed  time.Duration
		stats    dispatch.Stats
	}
)

func newSwitchtestCommand(app *App) *cobra.Command {
	var opts switchtestOptions
	cmd := &cobra.Command{
		Use:   "switchtest",
		Short: "Stress domain switches from concurrent threads",
		Long: `Bind a set of simulated real-time threads and have each one migrate
back and forth between the relaxed and control domains through the
dispatcher. Every migration must report a switch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			res, err := runSwitchtest(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			per := time.Duration(0)
			if res.switches > 0 {
				per = res.elapsed / time.Duration(res.switches)
			}
			app.printf("%s %d switches from %d thread(s) in %s (%s/switch)\n",
				SuccessStyle.Render("✓"), res.switches, opts.threads, res.elapsed.Round(time.Microsecond), per)
			if app.verbose {
				app.printf("%s\n", SubtitleStyle.Render(fmt.Sprintf("handled=%d denied=%d", res.stats.Handled, res.stats.Denied)))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 4, "number of concurrent threads")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 1000, "round trips per thread")
	return cmd
}

func runSwitchtest(ctx context.Context, cfg *config.Config, opts switchtestOptions) (*switchtestResult, error) {
	if opts.threads < 1 || opts.iterations < 1 {
		return nil, fmt.Errorf("%w: threads=%d iterations=%d", ErrInvalidSwitchtestOptions, opts.threads, opts.iterations)
	}
	offer, err := cfg.Features.Offer()
	if err != nil {
		return nil, err
	}

	var kopts []sim.KernelOption
	if p := privilegeSource(cfg.Privilege.Mode); p != nil {
		kopts = append(kopts, sim.WithPrivilegeSource(p))
	}
	k := sim.NewKernel(kopts...)
	table, err := calls.NewTable(calls.Deps{Migrator: k, Processes: k, Offer: offer})
	if err != nil {
		return nil, err
	}
	engine, err := dispatch.New(table, k.Collaborators(), dispatch.Config{})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	threads := make([]*sim.Thread, opts.threads)
	for i := range threads {
		th := k.SpawnBound(fmt.Sprintf("switch-%d", i), 0, sim.WithPrivilege(true))
		threads[i] = th
		g.Go(func() error {
			return switchLoop(gctx, engine, th, offer, opts.iterations)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	var switches uint64
	for _, th := range threads {
		n := len(th.Migrations())
		if n != 2*opts.iterations {
			return nil, fmt.Errorf("%s: %d migrations recorded, want %d", th.Name(), n, 2*opts.iterations)
		}
		switches += uint64(n)
	}
	return &switchtestResult{switches: switches, elapsed: elapsed, stats: engine.Stats()}, nil
}

func switchLoop(ctx context.Context, engine *dispatch.Engine, th *sim.Thread, offer features.Offer, iterations int) error {
	tctx := sim.WithThread(ctx, th)

	bind := abi.NewCall(systab.SysBind, uint64(offer.Supported&features.Mandatory), uint64(offer.ABIRev))
	engine.Dispatch(tctx, bind)
	if st := bind.Status(); st != abi.StatusOK {
		return fmt.Errorf("%s: bind: %w", th.Name(), st.Err())
	}

	for i := range iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, target := range []uint64{calls.MigratePrimary, calls.MigrateSecondary} {
			f := abi.NewCall(systab.SysMigrate, target)
			engine.Dispatch(tctx, f)
			if st := f.Status(); st != 1 {
				return fmt.Errorf("%s: migrate(%d) at iteration %d = %s, want a switch", th.Name(), target, i, st)
			}
		}
	}
	return nil
}
