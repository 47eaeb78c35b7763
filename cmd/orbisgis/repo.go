// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/orbisgis/framework/internal/config"
)

func newRepoCommand(app *App) *cobra.Command {
	repoCmd := &cobra.Command{
		Use:     "repo",
		Aliases: []string{"repository"},
		Short:   "Manage module repositories",
		Long: `Manage module repositories.

A repository is a catalog document (TOML, YAML or JSON) listing the modules
it offers. Repositories are stored in the "repositories" list of config.cue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var refresh bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listRepos(cmd.Context(), app, refresh)
		},
	}
	listCmd.Flags().BoolVar(&refresh, "refresh", false, "re-fetch every catalog and report failures")

	repoCmd.AddCommand(
		&cobra.Command{
			Use:   "add <url>",
			Short: "Add a repository after checking its catalog",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return addRepo(cmd.Context(), app, args[0])
			},
		},
		&cobra.Command{
			Use:   "remove <url>",
			Short: "Remove a repository",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return removeRepo(app, args[0])
			},
		},
		listCmd,
	)

	return repoCmd
}

func addRepo(ctx context.Context, app *App, url string) error {
	eng, err := app.engine(ctx)
	if err != nil {
		return err
	}
	if err := eng.index.AddSource(ctx, url); err != nil {
		return err
	}

	n := 0
	for d := range eng.index.Descriptors() {
		if d.Source == url {
			n++
		}
	}

	if !slices.Contains(app.cfg.Repositories, url) {
		app.cfg.Repositories = append(app.cfg.Repositories, url)
		if err := saveConfig(app); err != nil {
			return err
		}
	}
	fmt.Fprintf(app.stdout, "%s %s (%d modules)\n", SuccessStyle.Render("✓"), CmdStyle.Render(url), n)
	return nil
}

func removeRepo(app *App, url string) error {
	if !slices.Contains(app.cfg.Repositories, url) {
		return fmt.Errorf("repository %s is not configured", url)
	}
	app.cfg.Repositories = slices.DeleteFunc(app.cfg.Repositories, func(s string) bool { return s == url })
	if err := saveConfig(app); err != nil {
		return err
	}
	if app.eng != nil {
		app.eng.index.RemoveSource(url)
	}
	fmt.Fprintf(app.stdout, "%s removed %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(url))
	return nil
}

func listRepos(ctx context.Context, app *App, refresh bool) error {
	if len(app.cfg.Repositories) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("No repositories configured. Add one with 'orbisgis repo add <url>'."))
		return nil
	}

	eng, err := app.catalog(ctx)
	if err != nil {
		return err
	}
	var refreshErr error
	if refresh {
		refreshErr = eng.index.Refresh(ctx)
	}

	counts := make(map[string]int)
	for d := range eng.index.Descriptors() {
		counts[d.Source]++
	}
	loaded := eng.index.Sources()

	table := [][]string{{"REPOSITORY", "MODULES", "STATUS"}}
	for _, url := range app.cfg.Repositories {
		status := "ok"
		if !slices.Contains(loaded, url) {
			status = "unreachable"
		}
		table = append(table, []string{url, fmt.Sprint(counts[url]), status})
	}
	renderTable(app, table, func(r, c int) lipgloss.Style {
		if c == 2 && table[r+1][2] != "ok" {
			return ErrorStyle
		}
		return lipgloss.NewStyle()
	})
	return refreshErr
}

// saveConfig writes the in-memory configuration back to its file.
func saveConfig(app *App) error {
	path, err := app.configWritePath()
	if err != nil {
		return err
	}
	if err := config.Save(path, app.cfg); err != nil {
		return err
	}
	app.cfgPath = path
	return nil
}
