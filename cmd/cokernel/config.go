// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/cokernel/internal/config"
	"github.com/invowk/cokernel/internal/issue"
)

// newConfigCommand creates the `cokernel config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cokernel configuration",
		Long: `Manage cokernel configuration.

Configuration is stored in:
  - Linux: ~/.config/cokernel/config.cue
  - macOS: ~/Library/Application Support/cokernel/config.cue
  - Windows: %APPDATA%\cokernel\config.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			app.printf("%s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, path, err := config.Resolve(ctx, config.LoadOptions{ConfigFilePath: app.cfgFile})
	if err != nil {
		if rendered, rerr := issue.Get(issue.ConfigLoadFailedId).Render(glamourStyle(config.ColorSchemeAuto)); rerr == nil {
			fmt.Fprint(app.stderr, rendered)
		}
		fmt.Fprintln(app.stderr, formatErrorForDisplay(err, app.verbose))
		return err
	}

	source := SubtitleStyle.Render("(using defaults)")
	if path != "" {
		source = path
	}
	app.printf("%s %s\n\n", CmdStyle.Render("// source:"), source)
	app.printf("%s", config.GenerateCUE(cfg))
	return nil
}

func initConfig(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	if err := config.CreateDefaultConfig(); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	app.printf("%s Created default configuration at %s\n", SuccessStyle.Render("✓"),
		filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}
