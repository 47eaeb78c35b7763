// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for orbisgis.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/orbisgis/framework/internal/config"
	"github.com/orbisgis/framework/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orbisgis",
		Short: "Provision and manage OrbisGIS modules",
		Long: TitleStyle.Render("orbisgis") + SubtitleStyle.Render(" - Provision and manage OrbisGIS modules") + `

orbisgis installs the modules listed in a workspace manifest, and installs,
starts, stops, updates and removes single modules resolved from remote
repository catalogs together with their dependencies.

` + SubtitleStyle.Render("Examples:") + `
  orbisgis provision                     Provision the workspace manifest
  orbisgis provision --clear             Wipe the workspace, then provision
  orbisgis repo add https://repo.example.org/catalog.toml
  orbisgis module install org.orbisgis:view
  orbisgis module list                   Show installed and available modules`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.load(cmd.Context())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&app.flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/orbisgis/config.cue)")
	pf.StringVarP(&app.flags.workspace, "workspace", "w", "", "workspace root (default is $ORBISGIS_WORKSPACE or ~/.orbisgis/workspace)")
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(
		newProvisionCommand(app),
		newModuleCommand(app),
		newRepoCommand(app),
		newWorkspaceCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	if closeErr := app.Close(); closeErr != nil {
		app.logger.Warn("close workspace log", "err", closeErr)
	}
	if err == nil {
		return
	}

	renderIssue(app.stderr, err, app.colorScheme())

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(1)
}

// colorScheme returns the glamour style for issue help.
func (a *App) colorScheme() string {
	if a.cfg == nil {
		return string(config.ColorSchemeAuto)
	}
	return string(a.cfg.UI.ColorScheme)
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// renderIssue prints the help entry matching err, if any.
func renderIssue(w io.Writer, err error, style string) {
	entry := issue.ForError(err)
	if entry == nil {
		return
	}
	rendered, renderErr := entry.Render(style)
	if renderErr != nil {
		return
	}
	fmt.Fprint(w, rendered)
}
