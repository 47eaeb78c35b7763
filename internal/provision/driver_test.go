// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orbisgis/framework/internal/testutil"
	"github.com/orbisgis/framework/internal/workspace"
	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/module"
)

type env struct {
	layout  *workspace.Layout
	runtime *host.Local
	server  *testutil.FileServer
	driver  *Driver
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	layout, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.EnsureCreated(false); err != nil {
		t.Fatal(err)
	}
	rt, err := host.NewLocal(host.WithStorageDir(filepath.Join(layout.CacheDir(), "runtime")))
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	return &env{
		layout:  layout,
		runtime: rt,
		server:  testutil.NewFileServer(t),
		driver:  NewDriver(layout, rt, cfg),
	}
}

func (e *env) publish(t *testing.T, path string, d module.Descriptor) string {
	t.Helper()
	e.server.Put(path, testutil.Artifact(t, d))
	return e.server.URL(path)
}

func manifest(t *testing.T, lines ...string) *Manifest {
	t.Helper()
	m, err := ParseManifest(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	return m
}

func (e *env) state(t *testing.T, id host.ID) host.State {
	t.Helper()
	m, err := e.runtime.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", id, err)
	}
	return m.State
}

func TestDriver_InstallsAndIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t)
	src := e.publish(t, "/x/a.pkg", testutil.Descriptor("org.a", "1.0.0"))
	m := manifest(t, "bundle.1=" + src, "location.1=")

	first, err := e.driver.Run(ctx, m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Downloaded() != 1 || first.Installed() != 1 || len(first.Failed()) != 0 {
		t.Fatalf("first pass: downloaded %d installed %d failed %+v", first.Downloaded(), first.Installed(), first.Failed())
	}
	res := first.Entries[0]
	if want := filepath.Join(e.layout.ModuleCacheDir(), "a.pkg"); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
	if e.state(t, res.ID) != host.StateActive {
		t.Errorf("module not active after pass")
	}

	second, err := e.driver.Run(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if second.Downloaded() != 0 || second.Installed() != 0 || second.Cached() != 1 || second.Skipped() != 1 {
		t.Errorf("second pass: downloaded %d installed %d cached %d skipped %d",
			second.Downloaded(), second.Installed(), second.Cached(), second.Skipped())
	}
	if hits := e.server.Hits("/x/a.pkg"); hits != 1 {
		t.Errorf("artifact fetched %d times, want 1", hits)
	}
}

func TestDriver_PartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t)
	a := e.publish(t, "/repo/a.pkg", testutil.Descriptor("org.a", "1.0.0"))
	c := e.publish(t, "/repo/c.pkg", testutil.Descriptor("org.c", "1.0.0"))
	e.server.Put("/repo/corrupt.pkg", []byte("not an archive"))

	report, err := e.driver.Run(ctx, manifest(t,
		"bundle.1="+a,
		"bundle.2="+e.server.URL("/repo/missing.pkg"),
		"bundle.3="+c,
		"bundle.4="+e.server.URL("/repo/corrupt.pkg"),
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Installed() != 2 {
		t.Errorf("Installed = %d, want 2", report.Installed())
	}
	failed := report.Failed()
	if len(failed) != 2 {
		t.Fatalf("Failed = %+v, want two entries", failed)
	}
	if !errors.Is(failed[0].Err, module.ErrArtifactFetchFailed) || failed[0].Entry.Index != 2 {
		t.Errorf("missing source failure = %+v", failed[0])
	}
	if !errors.Is(failed[1].Err, module.ErrArtifactCorrupt) || failed[1].Entry.Index != 4 {
		t.Errorf("corrupt artifact failure = %+v", failed[1])
	}
	if _, err := os.Stat(filepath.Join(e.layout.ModuleCacheDir(), "missing.pkg")); !errors.Is(err, os.ErrNotExist) {
		t.Error("a failed download left a file behind")
	}

	mods, err := e.runtime.ListInstalled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, mod := range mods {
		if mod.State != host.StateActive {
			t.Errorf("%s is %s, want active", mod.Name, mod.State)
		}
	}
}

func TestDriver_CacheBustingQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t)
	e.publish(t, "/download", testutil.Descriptor("org.view", "1.0.0"))
	m := manifest(t, "bundle.1=" + e.server.URL("/download?a=view.pkg&rev=1"))

	for pass := 1; pass <= 2; pass++ {
		report, err := e.driver.Run(ctx, m)
		if err != nil {
			t.Fatal(err)
		}
		if report.Downloaded() != 1 {
			t.Errorf("pass %d: Downloaded = %d, want 1", pass, report.Downloaded())
		}
		if pass == 2 && report.Skipped() != 1 {
			t.Errorf("pass 2: Skipped = %d, want 1", report.Skipped())
		}
	}
	if _, err := os.Stat(filepath.Join(e.layout.ModuleCacheDir(), "view.pkg")); err != nil {
		t.Errorf("artifact not stored under its query name: %v", err)
	}
}

func TestDriver_StartsInactiveModule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t)
	src := e.publish(t, "/a.pkg", testutil.Descriptor("org.a", "1.0.0"))
	m := manifest(t, "bundle.1=" + src)

	report, err := e.driver.Run(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	id := report.Entries[0].ID
	if err := e.runtime.Stop(ctx, id); err != nil {
		t.Fatal(err)
	}

	report, err = e.driver.Run(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if report.Started() != 1 || report.Installed() != 0 {
		t.Errorf("started %d installed %d, want 1 and 0", report.Started(), report.Installed())
	}
	if report.Entries[0].ID != id || e.state(t, id) != host.StateActive {
		t.Errorf("module %s not restarted in place", id)
	}
}

func TestDriver_Placement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t)
	root := e.publish(t, "/root.pkg", testutil.Descriptor("org.root", "1.0.0"))
	sub := e.publish(t, "/sub.pkg", testutil.Descriptor("org.sub", "1.0.0"))

	report, err := e.driver.Run(ctx, manifest(t,
		"bundle.1="+root, "location.1=..",
		"bundle.2="+sub, "location.2=plugins/extra",
	))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(e.layout.Root(), "root.pkg"),
		filepath.Join(e.layout.Root(), "plugins", "extra", "sub.pkg"),
	}
	for i, w := range want {
		if report.Entries[i].Path != w {
			t.Errorf("entry %d Path = %q, want %q", i, report.Entries[i].Path, w)
		}
		if _, err := os.Stat(w); err != nil {
			t.Errorf("entry %d not downloaded: %v", i, err)
		}
	}
}

func TestDriver_ParallelDownloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, WithConcurrency(3))
	var lines []string
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("org.m%02d", i)
		src := e.publish(t, "/"+name+".pkg", testutil.Descriptor(name, "1.0.0"))
		lines = append(lines, fmt.Sprintf("bundle.%d=%s", i, src))
	}

	report, err := e.driver.Run(ctx, manifest(t, lines...))
	if err != nil {
		t.Fatal(err)
	}
	if report.Downloaded() != 12 || report.Installed() != 12 {
		t.Errorf("downloaded %d installed %d, want 12 each", report.Downloaded(), report.Installed())
	}
	for i, res := range report.Entries {
		if res.Entry.Index != i+1 {
			t.Errorf("report entry %d has index %d", i, res.Entry.Index)
		}
	}
}

func TestDriver_RunFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t)
	src := e.publish(t, "/a.pkg", testutil.Descriptor("org.a", "1.0.0"))
	dir := t.TempDir()

	good := filepath.Join(dir, "archetype.properties")
	testutil.MustWriteFile(t, good, []byte("bundle.1="+src+"\n"))
	stale := filepath.Join(e.layout.TempDir(), "stale.txt")
	testutil.MustWriteFile(t, stale, []byte("x"))

	report, err := e.driver.RunFile(ctx, good, true)
	if err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if report.Installed() != 1 {
		t.Errorf("Installed = %d", report.Installed())
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("clear did not wipe the workspace")
	}

	bad := filepath.Join(dir, "bad.properties")
	testutil.MustWriteFile(t, bad, []byte("bundle.x=http://x/a.pkg\n"))
	_, err = e.driver.RunFile(ctx, bad, false)
	var mie *module.ManifestInvalidError
	if !errors.As(err, &mie) || mie.Path != bad {
		t.Errorf("RunFile(bad) error = %v, want ManifestInvalidError for %s", err, bad)
	}

	_, err = e.driver.RunFile(ctx, filepath.Join(dir, "absent.properties"), false)
	if !errors.Is(err, module.ErrManifestInvalid) {
		t.Errorf("RunFile(absent) error = %v", err)
	}
}

func TestDriver_WorkspaceFailureIsFatal(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	testutil.MustWriteFile(t, file, []byte("x"))
	layout, err := workspace.New(file)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := host.NewLocal()
	if err != nil {
		t.Fatal(err)
	}

	report, err := NewDriver(layout, rt, nil).RunFile(context.Background(), "unused.properties", false)
	if !errors.Is(err, workspace.ErrCreateFailed) || report != nil {
		t.Errorf("RunFile = %v, %v; want workspace error", report, err)
	}
}

func TestDriver_Canceled(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	src := e.publish(t, "/a.pkg", testutil.Descriptor("org.a", "1.0.0"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.driver.Run(ctx, manifest(t, "bundle.1="+src))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if report == nil || report.Installed() != 0 {
		t.Errorf("report = %+v", report)
	}
}
