// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/invowk/cokernel/internal/config"
	"github.com/invowk/cokernel/internal/issue"
	"github.com/invowk/cokernel/internal/scenario"
	"github.com/invowk/cokernel/internal/watch"
)

func newSimulateCommand(app *App) *cobra.Command {
	var watchDir bool
	cmd := &cobra.Command{
		Use:   "simulate <scenario.cue>...",
		Short: "Replay scenario files through the dispatcher",
		Long: `Replay CUE scenario files through the dispatch engine against a simulated
co-kernel, checking the status, domain and handler trace of every step.

Privilege checks follow 'privilege.mode' from the configuration. With
--watch, the scenarios are replayed whenever a .cue file next to the first
one changes, until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watchDir {
				return simulateWatch(cmd, app, args)
			}
			return simulate(cmd, app, args)
		},
	}
	cmd.Flags().BoolVarP(&watchDir, "watch", "w", false, "replay on scenario file changes")
	return cmd
}

func simulate(cmd *cobra.Command, app *App, paths []string) error {
	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	opts, err := app.scenarioOptions(cfg)
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range paths {
		sc, err := scenario.Load(path)
		if err != nil {
			printIssue(app, cfg, issue.ScenarioLoadFailedId)
			return err
		}
		report, err := scenario.Run(cmd.Context(), sc, opts)
		if err != nil {
			return err
		}
		printReport(app, report)
		if !report.Passed() {
			failed++
		}
	}

	if failed > 0 {
		printIssue(app, cfg, issue.ScenarioFailedId)
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d scenario(s) failed", failed, len(paths))}
	}
	return nil
}

func printReport(app *App, report *scenario.Report) {
	mark := SuccessStyle.Render("PASS")
	if !report.Passed() {
		mark = ErrorStyle.Render("FAIL")
	}
	app.printf("%s %s\n", mark, TitleStyle.Render(report.Name))

	for _, o := range report.Outcomes {
		if o.Passed() && !app.verbose {
			continue
		}
		app.printf("  %s%s%s%s%s\n",
			column(fmt.Sprintf("#%d", o.Index), 4, SubtitleStyle),
			column(o.Thread, 10, SubtitleStyle),
			column(o.Call, 20, CmdStyle),
			column(o.Status.String(), 12, statusStyle(o.Passed())),
			domainLabel(o.Domain))
		for _, f := range o.Failures {
			app.printf("      %s\n", ErrorStyle.Render(f))
		}
	}

	if app.verbose {
		s := report.Stats
		app.printf("  %s\n", SubtitleStyle.Render(fmt.Sprintf(
			"handled=%d propagated=%d denied=%d bad=%d retries=%d interrupted=%d cancelled=%d",
			s.Handled, s.Propagated, s.Denied, s.BadCalls, s.Retries, s.Interrupted, s.Cancelled)))
	}
}

func statusStyle(passed bool) lipgloss.Style {
	if passed {
		return SuccessStyle
	}
	return ErrorStyle
}

func printIssue(app *App, cfg *config.Config, id issue.Id) {
	rendered, err := issue.Get(id).Render(glamourStyle(cfg.UI.ColorScheme))
	if err != nil {
		return
	}
	fmt.Fprint(app.stderr, strings.TrimRight(rendered, "\n")+"\n")
}

func simulateWatch(cmd *cobra.Command, app *App, paths []string) error {
	if err := simulate(cmd, app, paths); err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			return err
		}
	}

	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := app.logger(cfg)
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Config{
		Dir:      filepath.Dir(paths[0]),
		Patterns: []string{"**/*.cue"},
		Logger:   logger,
		OnChange: func(_ context.Context, changed []string) error {
			app.printf("\n%s %s\n", SubtitleStyle.Render("changed:"), strings.Join(changed, ", "))
			err := simulate(cmd, app, paths)
			var exitErr *ExitError
			if errors.As(err, &exitErr) {
				return nil
			}
			return err
		},
	})
	if err != nil {
		return err
	}
	app.printf("%s\n", SubtitleStyle.Render("watching "+w.Root()+" (Ctrl+C to stop)"))
	return w.Run(cmd.Context())
}
