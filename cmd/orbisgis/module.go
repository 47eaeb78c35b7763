// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/orbisgis/framework/pkg/lifecycle"
	"github.com/orbisgis/framework/pkg/module"
)

func newModuleCommand(app *App) *cobra.Command {
	moduleCmd := &cobra.Command{
		Use:     "module",
		Aliases: []string{"mod"},
		Short:   "Manage single modules",
		Long: `Manage single modules.

Modules are addressed by symbolic name ("org.orbisgis.view") or by
coordinates ("org.orbisgis:view"). Install resolves the module and its
requirements from the configured repositories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	moduleCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List installed and available modules",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return listModules(cmd.Context(), app)
			},
		},
		&cobra.Command{
			Use:   "info <module>",
			Short: "Show a module's metadata and requirements",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return showModule(cmd.Context(), app, args[0])
			},
		},
		newInstallCommand(app),
		lifecycleCommand(app, "start", "Start an installed module", (*lifecycle.Manager).Start),
		lifecycleCommand(app, "stop", "Stop a started module", (*lifecycle.Manager).Stop),
		lifecycleCommand(app, "update", "Reload a module from its install location", (*lifecycle.Manager).Update),
		lifecycleCommand(app, "uninstall", "Remove an installed module", (*lifecycle.Manager).Uninstall),
	)

	return moduleCmd
}

func newInstallCommand(app *App) *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:   "install <module>",
		Short: "Install a module and its requirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := app.catalog(ctx)
			if err != nil {
				return err
			}
			h, err := eng.manager.Install(ctx, args[0])
			if err != nil {
				return err
			}
			if start {
				if err := h.Start(ctx); err != nil {
					return err
				}
			}
			state, _ := h.State(ctx)
			fmt.Fprintf(app.stdout, "%s %s %s (id %s) %s\n",
				SuccessStyle.Render("✓"), CmdStyle.Render(string(h.SymbolicName(ctx))),
				h.Version(ctx), h.ID(), stateStyle(state).Render(state.String()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "start the module once installed")
	return cmd
}

// lifecycleCommand builds a command that applies op to one installed module.
func lifecycleCommand(app *App, use, short string, op func(*lifecycle.Manager, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <module>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := app.engine(ctx)
			if err != nil {
				return err
			}
			if err := op(eng.manager, ctx, args[0]); err != nil {
				return err
			}

			state := lifecycle.StateUninstalled
			if h, err := eng.manager.Handle(ctx, args[0]); err == nil {
				state, _ = h.State(ctx)
			}
			fmt.Fprintf(app.stdout, "%s %s %s\n",
				SuccessStyle.Render("✓"), CmdStyle.Render(args[0]), stateStyle(state).Render(state.String()))
			return nil
		},
	}
}

func listModules(ctx context.Context, app *App) error {
	eng, err := app.catalog(ctx)
	if err != nil {
		return err
	}
	rows, err := eng.manager.List(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("No modules installed or available. Add a repository with 'orbisgis repo add <url>'."))
		return nil
	}

	table := [][]string{{"MODULE", "NAME", "INSTALLED", "AVAILABLE", "STATE"}}
	for _, row := range rows {
		table = append(table, []string{
			string(row.Name),
			row.DisplayName,
			versionOrDash(row.Installed),
			versionOrDash(row.Available),
			row.State.String(),
		})
	}
	renderTable(app, table, func(r, c int) lipgloss.Style {
		if c == 4 {
			return stateStyle(rows[r].State)
		}
		return lipgloss.NewStyle()
	})
	return nil
}

func showModule(ctx context.Context, app *App, coord string) error {
	name, err := module.ParseCoordinates(coord)
	if err != nil {
		return err
	}
	eng, err := app.catalog(ctx)
	if err != nil {
		return err
	}

	var (
		props map[string]string
		state = lifecycle.StateUninstalled
		desc  module.Descriptor
	)
	h, err := eng.manager.Handle(ctx, coord)
	switch {
	case err == nil:
		state, _ = h.State(ctx)
		props = h.Properties(ctx)
		desc = h.Descriptor()
	case errors.Is(err, module.ErrModuleNotFound):
		latest, ok := eng.resolver.Latest(name, "")
		if !ok {
			return module.NewLifecycleError(module.OpInstall, name, module.ErrModuleNotFound)
		}
		props, desc = latest.Headers(), latest
	default:
		return err
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render(string(name)))
	fmt.Fprintf(app.stdout, "%s: %s\n", CmdStyle.Render("state"), stateStyle(state).Render(state.String()))
	for _, key := range slices.Sorted(maps.Keys(props)) {
		fmt.Fprintf(app.stdout, "%s: %s\n", CmdStyle.Render(key), props[key])
	}

	// Installed modules do not carry their requirements; take them from the
	// catalog listing of the same version when there is one.
	if listed, ok := eng.resolver.Latest(name, desc.Version.String()); ok {
		desc = listed
	}
	if len(desc.Requires) == 0 {
		return nil
	}
	res, err := eng.resolver.Resolve(ctx, desc)
	if err != nil {
		return err
	}
	pending := make(map[module.SymbolicName]bool)
	for _, d := range slices.Concat(res.Required, res.Optional) {
		pending[d.Name] = true
	}
	missing := make(map[module.SymbolicName]bool)
	for _, req := range slices.Concat(res.Unsatisfied, res.UnsatisfiedOptional) {
		missing[req.Name] = true
	}

	fmt.Fprintln(app.stdout)
	fmt.Fprintln(app.stdout, TitleStyle.Render("Requirements"))
	for _, req := range desc.Requires {
		note := ""
		if req.Optional {
			note = SubtitleStyle.Render(" (optional)")
		}
		switch {
		case missing[req.Name]:
			fmt.Fprintf(app.stdout, "  %s %s %s%s\n", ErrorStyle.Render("✗"), req, ErrorStyle.Render("unavailable"), note)
		case pending[req.Name]:
			fmt.Fprintf(app.stdout, "  %s %s %s%s\n", WarningStyle.Render("→"), req, WarningStyle.Render("to install"), note)
		default:
			fmt.Fprintf(app.stdout, "  %s %s %s%s\n", SuccessStyle.Render("✓"), req, SuccessStyle.Render("installed"), note)
		}
	}
	return nil
}

func versionOrDash(v module.Version) string {
	if v.IsZero() {
		return "-"
	}
	return v.String()
}

// renderTable prints rows with padded columns; the first row is the header.
// style picks the style of a body cell by body row and column index.
func renderTable(app *App, rows [][]string, style func(r, c int) lipgloss.Style) {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for c, cell := range row {
			widths[c] = max(widths[c], lipgloss.Width(cell))
		}
	}
	for r, row := range rows {
		cells := make([]string, len(row))
		for c, cell := range row {
			s := headerCellStyle
			if r > 0 {
				s = style(r-1, c).Inherit(cellStyle)
			}
			cells[c] = s.Width(widths[c] + 2).Render(cell)
		}
		fmt.Fprintln(app.stdout, strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
	}
}
