// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orbisgis/framework/internal/provision"
	"github.com/orbisgis/framework/internal/watch"
)

type provisionFlagValues struct {
	clear       bool
	watch       bool
	force       bool
	concurrency int
}

func newProvisionCommand(app *App) *cobra.Command {
	var flags provisionFlagValues

	cmd := &cobra.Command{
		Use:   "provision [manifest]",
		Short: "Install and start the modules listed in a manifest",
		Long: `Install and start the modules listed in a manifest.

The manifest is a properties file with one "bundle.<n>" key per artifact and
an optional "location.<n>" placement. Missing artifacts are downloaded into
the workspace, then installed and started. Modules already present in the
runtime are skipped.

Without an argument the manifest configured in config.cue is used, falling
back to conf/archetype.properties in the workspace.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), app, app.manifestPath(args), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.clear, "clear", false, "wipe the workspace before provisioning")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "re-provision whenever the manifest changes")
	cmd.Flags().BoolVar(&flags.force, "force", false, "download every artifact even when cached")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "parallel downloads (default from config)")

	return cmd
}

func runProvision(ctx context.Context, app *App, manifest string, flags provisionFlagValues) error {
	if err := app.openWorkspace(flags.clear); err != nil {
		return err
	}

	opts := []provision.Option{provision.WithForceDownload(flags.force)}
	if flags.concurrency > 0 {
		opts = append(opts, provision.WithConcurrency(flags.concurrency))
	}
	driver, err := app.driver(ctx, opts...)
	if err != nil {
		return err
	}

	pass := func(ctx context.Context) error {
		report, err := driver.RunFile(ctx, manifest, false)
		if err != nil {
			return err
		}
		return printReport(app.stdout, report)
	}

	if !flags.watch {
		return pass(ctx)
	}
	return watchManifest(ctx, app, manifest, pass)
}

// watchManifest runs pass once, then again every time manifest changes,
// until ctx is cancelled.
func watchManifest(ctx context.Context, app *App, manifest string, pass func(context.Context) error) error {
	abs, err := filepath.Abs(manifest)
	if err != nil {
		return fmt.Errorf("resolve manifest path: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Watch mode: initial pass over %s\n", VerboseHighlightStyle.Render("→"), CmdStyle.Render(abs))
	if passErr := pass(ctx); passErr != nil {
		// The user may fix the manifest and save again.
		fmt.Fprintf(app.stderr, "%s %s\n", WarningStyle.Render("!"), formatErrorForDisplay(passErr, app.cfg.UI.Verbose))
	}

	w, err := watch.New(watch.Config{
		BaseDir:  filepath.Dir(abs),
		Patterns: []string{filepath.Base(abs)},
		Logger:   app.logger,
		OnChange: func(ctx context.Context, _ []string) error {
			fmt.Fprintf(app.stdout, "\n%s Manifest changed, provisioning...\n", VerboseHighlightStyle.Render("→"))
			if passErr := pass(ctx); passErr != nil {
				fmt.Fprintf(app.stderr, "%s %s\n", WarningStyle.Render("!"), formatErrorForDisplay(passErr, app.cfg.UI.Verbose))
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	fmt.Fprintf(app.stdout, "\n%s Watching for changes (Ctrl+C to stop)...\n", VerboseHighlightStyle.Render("→"))
	return w.Run(ctx)
}

// printReport writes one line per manifest entry and a summary. It returns
// an ExitError when an entry failed.
func printReport(w io.Writer, report *provision.Report) error {
	for _, e := range report.Entries {
		name := e.Entry.Source
		if e.Module.Name != "" {
			name = fmt.Sprintf("%s %s", e.Module.Name, e.Module.Version)
		}
		outcome := outcomeStyle(e.Fetch).Render(string(e.Fetch))
		if e.Install != "" {
			outcome += ", " + outcomeStyle(e.Install).Render(string(e.Install))
		}
		fmt.Fprintf(w, "  %-3d %s  %s\n", e.Entry.Index, CmdStyle.Render(name), outcome)
		if e.Err != nil {
			fmt.Fprintf(w, "      %s\n", ErrorStyle.Render(e.Err.Error()))
		}
	}

	failed := report.Failed()
	fmt.Fprintf(w, "\n%s %d downloaded, %d cached, %d installed, %d started, %d skipped, %d failed\n",
		TitleStyle.Render("Provisioned:"),
		report.Downloaded(), report.Cached(), report.Installed(), report.Started(), report.Skipped(), len(failed))

	if len(failed) > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d manifest entries failed", len(failed), len(report.Entries))}
	}
	return nil
}
