// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/invowk/cokernel/internal/calls"
	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/internal/sim"
	"github.com/invowk/cokernel/internal/systab"
)

type tableFlags struct {
	all   bool
	bound bool
	mode  string
}

func newTableCommand(app *App) *cobra.Command {
	var flags tableFlags
	cmd := &cobra.Command{
		Use:   "table",
		Short: "List the call table",
		Long: `List the call descriptor table: id, name, execution mode and whether a
handler is bound. Unbound slots answer ENOSYS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTable(app, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.all, "all", false, "include empty extension slots")
	cmd.Flags().BoolVar(&flags.bound, "bound", false, "only list slots with a handler")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "only list calls with this mode (e.g. primary, relaxed|switchback)")
	return cmd
}

// newCallTable builds the production table: the core calls over a
// simulated kernel, every other slot unbound.
func newCallTable() (*systab.Table, error) {
	k := sim.NewKernel()
	return calls.NewTable(calls.Deps{Migrator: k, Processes: k})
}

func listTable(app *App, flags tableFlags) error {
	table, err := newCallTable()
	if err != nil {
		return err
	}

	var (
		wantMode execmode.Flags
		byMode   = flags.mode != ""
	)
	if byMode {
		if wantMode, err = execmode.Parse(flags.mode); err != nil {
			return err
		}
	}

	descs := table.Known()
	if flags.all {
		descs = table.Descriptors()
	}

	app.printf("%s%s%s%s\n",
		column("ID", 5, TitleStyle), column("NAME", 26, TitleStyle),
		column("MODE", 40, TitleStyle), TitleStyle.Render("HANDLER"))
	shown := 0
	for _, d := range descs {
		if flags.bound && !d.Bound {
			continue
		}
		if byMode && d.Mode != wantMode {
			continue
		}
		handler := SubtitleStyle.Render("-")
		if d.Bound {
			handler = SuccessStyle.Render("bound")
		}
		app.printf("%s%s%s%s\n",
			column(strconv.Itoa(int(d.ID)), 5, SubtitleStyle), column(d.Name, 26, CmdStyle),
			column(modeLabel(d.Mode), 40, SubtitleStyle), handler)
		shown++
	}
	app.printf("\n%s\n", SubtitleStyle.Render(strconv.Itoa(shown)+" of "+strconv.Itoa(table.Len())+" slots"))
	return nil
}

// modeLabel prefers the composite name and falls back to the flag list.
func modeLabel(m execmode.Flags) string {
	if name := m.Name(); name != "" {
		return name
	}
	return m.String()
}
