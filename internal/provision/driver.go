// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/orbisgis/framework/internal/workspace"
	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/module"
)

// Driver is the provisioning driver. Passes against the same workspace must
// not run concurrently.
type Driver struct {
	layout  *workspace.Layout
	runtime host.Runtime
	config  *Config
}

// NewDriver creates a Driver. A nil config means DefaultConfig.
func NewDriver(layout *workspace.Layout, runtime host.Runtime, cfg *Config) *Driver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	return &Driver{layout: layout, runtime: runtime, config: cfg}
}

// RunFile ensures the workspace exists, clearing it first when clear is set,
// parses the manifest at path and runs a pass. Workspace and manifest
// failures abort the pass.
func (d *Driver) RunFile(ctx context.Context, path string, clear bool) (*Report, error) {
	if err := d.layout.EnsureCreated(clear); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &module.ManifestInvalidError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }() // read-only file

	m, err := ParseManifest(f)
	if err != nil {
		var mie *module.ManifestInvalidError
		if errors.As(err, &mie) {
			mie.Path = path
		}
		return nil, err
	}
	m.Path = path
	return d.Run(ctx, m)
}

// Run provisions every manifest entry. Entries whose source is unreachable
// or whose artifact cannot be installed are reported as failed and the pass
// continues. The error is non-nil only when ctx ended the pass early.
func (d *Driver) Run(ctx context.Context, m *Manifest) (*Report, error) {
	log := d.config.Logger
	report := &Report{Entries: make([]EntryResult, len(m.Entries))}
	for i, e := range m.Entries {
		report.Entries[i] = EntryResult{Entry: e}
	}

	d.fetchAll(ctx, report)

	for i := range report.Entries {
		res := &report.Entries[i]
		if res.Fetch == OutcomeFailed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d.install(ctx, res)
	}

	log.Info("provisioning finished",
		"manifest", m.Path,
		"downloaded", report.Downloaded(),
		"installed", report.Installed(),
		"started", report.Started(),
		"failed", len(report.Failed()))
	return report, ctx.Err()
}

// fetchAll resolves every entry's local path and downloads what is missing.
// Downloads run in parallel; entries sharing a destination share a single
// download.
func (d *Driver) fetchAll(ctx context.Context, report *Report) {
	var (
		g     errgroup.Group
		group singleflight.Group
	)
	g.SetLimit(d.config.Concurrency)

	for i := range report.Entries {
		res := &report.Entries[i]
		dest, err := d.destination(res.Entry)
		if err != nil {
			d.fail(res, OutcomeFailed, "", err)
			continue
		}
		res.Path = dest

		if !d.config.ForceDownload && !HasCacheBuster(res.Entry.Source) && fileExists(dest) {
			d.config.Logger.Debug("artifact already cached", "source", res.Entry.Source, "path", dest)
			res.Fetch = OutcomeCached
			continue
		}

		g.Go(func() error {
			_, err, _ := group.Do(dest, func() (any, error) {
				d.config.Logger.Debug("downloading artifact", "source", res.Entry.Source, "path", dest)
				return nil, d.config.Downloader.Download(ctx, res.Entry.Source, dest)
			})
			if err != nil {
				d.fail(res, OutcomeFailed, "", &module.ArtifactFetchError{Source: res.Entry.Source, Path: dest, Err: err})
				return nil
			}
			res.Fetch = OutcomeDownloaded
			return nil
		})
	}
	_ = g.Wait() // workers record failures on their entry
}

func (d *Driver) destination(e Entry) (string, error) {
	dir, err := d.layout.Placement(e.Placement)
	if err != nil {
		return "", err
	}
	name, err := ArtifactFileName(e.Source)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// install brings one fetched artifact to the active state.
func (d *Driver) install(ctx context.Context, res *EntryResult) {
	desc, err := module.ReadArtifactFile(res.Path)
	if err != nil {
		// The identity is unknown, so the module is treated as not installed;
		// the runtime could not read it either.
		d.fail(res, "", OutcomeFailed, err)
		return
	}
	res.Module = desc

	mods, err := d.runtime.ListInstalled(ctx)
	if err != nil {
		d.fail(res, "", OutcomeFailed, fmt.Errorf("list installed modules: %w", err))
		return
	}
	for _, m := range mods {
		if m.Name != desc.Name || !m.Version.Equal(desc.Version) {
			continue
		}
		res.ID = m.ID
		if m.State == host.StateActive {
			d.config.Logger.Debug("module already active", "module", desc.Name, "version", desc.Version)
			res.Install = OutcomeSkipped
			return
		}
		if err := d.runtime.Start(ctx, m.ID); err != nil {
			d.fail(res, "", OutcomeFailed, module.NewLifecycleError(module.OpStart, desc.Name, err))
			return
		}
		d.config.Logger.Info("module started", "module", desc.Name, "version", desc.Version)
		res.Install = OutcomeStarted
		return
	}

	id, err := d.installFile(ctx, res.Path)
	if err != nil {
		d.fail(res, "", OutcomeFailed, module.NewLifecycleError(module.OpInstall, desc.Name, err))
		return
	}
	res.ID = id
	if err := d.runtime.Start(ctx, id); err != nil {
		d.fail(res, "", OutcomeFailed, module.NewLifecycleError(module.OpStart, desc.Name, err))
		return
	}
	d.config.Logger.Info("module installed", "module", desc.Name, "version", desc.Version, "id", id)
	res.Install = OutcomeInstalled
}

func (d *Driver) installFile(ctx context.Context, path string) (host.ID, error) {
	f, err := os.Open(path)
	if err != nil {
		return host.Unassigned, err
	}
	defer func() { _ = f.Close() }() // read-only file
	return d.runtime.Install(ctx, path, f)
}

func (d *Driver) fail(res *EntryResult, fetch, install Outcome, err error) {
	if fetch != "" {
		res.Fetch = fetch
	}
	if install != "" {
		res.Install = install
	}
	res.Err = err
	d.config.Logger.Warn("provisioning entry failed",
		"module", string(res.Module.Name),
		"source", res.Entry.Source,
		"err", err)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
