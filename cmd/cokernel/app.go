// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/invowk/cokernel/internal/config"
	"github.com/invowk/cokernel/internal/dispatch"
	"github.com/invowk/cokernel/internal/hostcap"
	"github.com/invowk/cokernel/internal/logging"
	"github.com/invowk/cokernel/internal/scenario"
	"github.com/invowk/cokernel/internal/sim"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives an App reference.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer

		verbose bool
		cfgFile string
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{Config: deps.Config, stdout: deps.Stdout, stderr: deps.Stderr}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// loadConfig loads the configuration selected by --config and applies its
// UI settings.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return nil, err
	}
	if !a.verbose {
		a.verbose = cfg.UI.Verbose
	}
	applyColorScheme(cfg.UI.ColorScheme)
	return cfg, nil
}

// logger builds the diagnostic logger. --verbose lowers the level to debug.
func (a *App) logger(cfg *config.Config) (*log.Logger, error) {
	level := cfg.LogLevel.String()
	if a.verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Prefix: config.AppName, Writer: a.stderr})
}

// scenarioOptions translates the configuration into run options.
func (a *App) scenarioOptions(cfg *config.Config) (scenario.Options, error) {
	logger, err := a.logger(cfg)
	if err != nil {
		return scenario.Options{}, err
	}
	offer, err := cfg.Features.Offer()
	if err != nil {
		return scenario.Options{}, err
	}
	sysconf, err := cfg.Sysconf.Values()
	if err != nil {
		return scenario.Options{}, err
	}
	return scenario.Options{
		Logger: logger,
		Dispatch: dispatch.Config{
			WarnDenied: cfg.Dispatch.WarnDenied,
			TraceCalls: cfg.Dispatch.TraceCalls,
		},
		Offer:      offer,
		Sysconf:    sysconf,
		Privileges: privilegeSource(cfg.Privilege.Mode),
	}, nil
}

// privilegeSource maps the configured mode to the engine's privilege
// check. Thread mode returns nil: each simulated thread carries its own.
func privilegeSource(mode config.PrivilegeMode) dispatch.Privileges {
	switch mode {
	case config.PrivilegeHost:
		return hostcap.New()
	case config.PrivilegeGranted:
		return sim.FixedPrivilege(true)
	case config.PrivilegeDenied:
		return sim.FixedPrivilege(false)
	default:
		return nil
	}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
