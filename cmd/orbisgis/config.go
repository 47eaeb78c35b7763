// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orbisgis/framework/internal/config"
)

// newConfigCommand creates the `orbisgis config` command tree. Only show
// and dump load the configuration, so init and path work with a broken file.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage orbisgis configuration",
		Long: `Manage orbisgis configuration.

Configuration is stored in:
  - Linux: ~/.config/orbisgis/config.cue
  - macOS: ~/Library/Application Support/orbisgis/config.cue
  - Windows: %APPDATA%\orbisgis\config.cue

Every key can be overridden by an environment variable, for example
ORBISGIS_DOWNLOAD_CONCURRENCY=8.`,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.load(cmd.Context()); err != nil {
				return err
			}
			showConfig(app)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.configWritePath()
			if err != nil {
				return err
			}
			path, created, err := config.CreateDefaultConfig(path)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(app.stdout, "%s %s\n", SubtitleStyle.Render("Config file already exists:"), CmdStyle.Render(path))
				return nil
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓ Created"), CmdStyle.Render(path))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.configWritePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.load(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(app.cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(app *App) {
	cfg := app.cfg
	key := CmdStyle.Render
	value := SuccessStyle.Render

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)

	if app.cfgPath != "" {
		fmt.Fprintf(app.stdout, "%s: %s\n", key("Config file"), app.cfgPath)
	} else {
		fmt.Fprintf(app.stdout, "%s: %s\n", key("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintf(app.stdout, "%s: %s\n", key("Workspace"), app.layout.Root())
	fmt.Fprintln(app.stdout)

	manifest := cfg.Manifest
	if manifest == "" {
		manifest = SubtitleStyle.Render("(workspace conf/" + config.DefaultManifestName + ")")
	}
	fmt.Fprintf(app.stdout, "%s: %s\n", key("manifest"), manifest)

	repos := SubtitleStyle.Render("(none)")
	if len(cfg.Repositories) > 0 {
		repos = value(strings.Join(cfg.Repositories, ", "))
	}
	fmt.Fprintf(app.stdout, "%s: %s\n", key("repositories"), repos)
	fmt.Fprintf(app.stdout, "%s: %s\n", key("download.concurrency"), value(fmt.Sprint(cfg.Download.Concurrency)))
	fmt.Fprintf(app.stdout, "%s: %s\n", key("download.timeout"), value(cfg.Download.Timeout.String()))
	fmt.Fprintf(app.stdout, "%s: %s\n", key("log.level"), value(string(cfg.Log.Level)))
	fmt.Fprintf(app.stdout, "%s: %s\n", key("ui.color_scheme"), value(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(app.stdout, "%s: %s\n", key("ui.verbose"), value(fmt.Sprint(cfg.UI.Verbose)))
}
