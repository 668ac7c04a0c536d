// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/cokernel/internal/issue"
	"github.com/invowk/cokernel/pkg/abi"
)

func newExplainCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <status>",
		Short: "Explain a call status",
		Long: `Explain what a call status means and what usually causes it. The
status is an errno name (EPERM) or its negative value (-1).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return explainStatus(cmd, app, args[0])
		},
	}
}

func explainStatus(cmd *cobra.Command, app *App, raw string) error {
	st, err := abi.ParseStatus(raw)
	if err != nil {
		return err
	}
	is := issue.ForStatus(st)
	if is == nil {
		return fmt.Errorf("no explanation for status %s", st)
	}

	cfg, err := app.loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	rendered, err := is.Render(glamourStyle(cfg.UI.ColorScheme))
	if err != nil {
		return err
	}
	app.printf("%s", rendered)
	return nil
}
