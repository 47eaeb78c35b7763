// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orbisgis/framework/internal/workspace"
)

func newWorkspaceCommand(app *App) *cobra.Command {
	wsCmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect and create the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var clear bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.openWorkspace(clear); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓ Workspace ready:"), CmdStyle.Render(app.layout.Root()))
			for _, dir := range app.layout.Dirs() {
				fmt.Fprintf(app.stdout, "  %s\n", VerboseStyle.Render(dir))
			}
			return nil
		},
	}
	initCmd.Flags().BoolVar(&clear, "clear", false, "wipe the workspace before creating it")

	pathCmd := &cobra.Command{
		Use:       "path [folder]",
		Short:     "Print the workspace root or one of its folders",
		Long:      "Print the workspace root or one of its folders: " + strings.Join(folderNames, ", ") + ".",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: folderNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.layout.Root()
			if len(args) == 1 {
				path = folderPath(app.layout, args[0])
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	}

	wsCmd.AddCommand(initCmd, pathCmd)
	return wsCmd
}

var folderNames = []string{"tmp", "app", "modules", "cache", "conf", "log"}

func folderPath(l *workspace.Layout, name string) string {
	switch name {
	case "tmp":
		return l.TempDir()
	case "app":
		return l.AppDir()
	case "modules":
		return l.ModuleCacheDir()
	case "cache":
		return l.CacheDir()
	case "conf":
		return l.ConfigDir()
	case "log":
		return l.LogFilePath()
	default:
		return l.Root()
	}
}
