// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orbisgis/framework/internal/issue"
	"github.com/orbisgis/framework/internal/provision"
	"github.com/orbisgis/framework/internal/testutil"
	"github.com/orbisgis/framework/internal/workspace"
	"github.com/orbisgis/framework/pkg/module"
)

// harness runs CLI invocations against a private config dir and workspace.
type harness struct {
	configDir string
	workspace string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		configDir: filepath.Join(t.TempDir(), "config"),
		workspace: filepath.Join(t.TempDir(), "workspace"),
	}
}

// run executes one CLI invocation with a fresh App, the way a new process
// would, and returns its stdout.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Stdout:    &stdout,
		Stderr:    &stderr,
		ConfigDir: h.configDir,
		Getenv:    func(string) string { return "" },
	})
	root := NewRootCommand(app)
	root.SetArgs(append([]string{"--workspace", h.workspace}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	if closeErr := app.Close(); closeErr != nil {
		t.Errorf("Close: %v", closeErr)
	}
	return stdout.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	if err != nil {
		t.Fatalf("orbisgis %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2026-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2026-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("fallback to dev", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		if got := getVersionString(); got != "dev (built from source)" {
			t.Errorf("getVersionString() = %q", got)
		}
	})
}

func TestExitError(t *testing.T) {
	t.Parallel()

	cause := errors.New("2 of 3 manifest entries failed")
	err := error(&ExitError{Code: 1, Err: cause})
	if err.Error() != cause.Error() || !errors.Is(err, cause) {
		t.Errorf("ExitError does not expose its cause: %v", err)
	}
	if got := (&ExitError{Code: 3}).Error(); got != "exit status 3" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWorkspaceCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out := h.mustRun(t, "workspace", "init")
	if !strings.Contains(out, "Workspace ready") {
		t.Errorf("init output = %q", out)
	}
	for _, dir := range []string{workspace.TempDirName, workspace.ModuleCacheDirName, workspace.ConfigDirName} {
		if info, err := os.Stat(filepath.Join(h.workspace, dir)); err != nil || !info.IsDir() {
			t.Errorf("folder %s not created: %v", dir, err)
		}
	}

	out = h.mustRun(t, "workspace", "path", "modules")
	if strings.TrimSpace(out) != filepath.Join(h.workspace, workspace.ModuleCacheDirName) {
		t.Errorf("path modules = %q", out)
	}
	if _, err := h.run(t, "workspace", "path", "nowhere"); err == nil {
		t.Error("unknown folder accepted")
	}
}

func TestConfigCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	want := filepath.Join(h.configDir, "config.cue")

	if out := h.mustRun(t, "config", "path"); strings.TrimSpace(out) != want {
		t.Errorf("config path = %q, want %q", out, want)
	}
	if out := h.mustRun(t, "config", "init"); !strings.Contains(out, "Created") {
		t.Errorf("config init = %q", out)
	}
	if out := h.mustRun(t, "config", "init"); !strings.Contains(out, "already exists") {
		t.Errorf("second config init = %q", out)
	}

	out := h.mustRun(t, "config", "dump")
	if !strings.Contains(out, "concurrency: 4") {
		t.Errorf("config dump = %q", out)
	}

	testutil.MustWriteFile(t, want, []byte(`download: { concurrency: 999 }`))
	if _, err := h.run(t, "config", "show"); err == nil {
		t.Error("config show accepted an out-of-range value")
	}
	// init and path do not load the broken file.
	if _, err := h.run(t, "config", "path"); err != nil {
		t.Errorf("config path with a broken file: %v", err)
	}
}

func TestProvisionCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	srv := testutil.NewFileServer(t)
	srv.Put("/core-5.1.0.pkg", testutil.Artifact(t, testutil.Descriptor("org.orbisgis.core", "5.1.0")))
	srv.Put("/tools-2.0.0.pkg", testutil.Artifact(t, testutil.Descriptor("org.orbisgis.tools", "2.0.0")))

	manifest := filepath.Join(t.TempDir(), "archetype.properties")
	testutil.MustWriteFile(t, manifest, []byte(
		"bundle.1="+srv.URL("/core-5.1.0.pkg")+"\n"+
			"bundle.2="+srv.URL("/tools-2.0.0.pkg")+"\n"))

	out := h.mustRun(t, "provision", manifest)
	if !strings.Contains(out, "2 downloaded") || !strings.Contains(out, "0 failed") {
		t.Errorf("first pass = %q", out)
	}

	out = h.mustRun(t, "provision", manifest)
	if !strings.Contains(out, "2 cached") || !strings.Contains(out, "2 skipped") {
		t.Errorf("second pass = %q", out)
	}
	if srv.Hits("/core-5.1.0.pkg") != 1 {
		t.Errorf("artifact fetched %d times, want 1", srv.Hits("/core-5.1.0.pkg"))
	}

	out = h.mustRun(t, "provision", "--clear", manifest)
	if !strings.Contains(out, "2 downloaded") {
		t.Errorf("pass after --clear = %q", out)
	}
}

func TestProvisionCommand_FailedEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	srv := testutil.NewFileServer(t)
	srv.Put("/core-5.1.0.pkg", testutil.Artifact(t, testutil.Descriptor("org.orbisgis.core", "5.1.0")))

	manifest := filepath.Join(t.TempDir(), "archetype.properties")
	testutil.MustWriteFile(t, manifest, []byte(
		"bundle.1="+srv.URL("/core-5.1.0.pkg")+"\n"+
			"bundle.2="+srv.URL("/missing.pkg")+"\n"))

	out, err := h.run(t, "provision", manifest)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("provision = %v, want *ExitError", err)
	}
	if !strings.Contains(out, "1 failed") {
		t.Errorf("output = %q", out)
	}
}

func TestRepoAndModuleCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	srv := testutil.NewFileServer(t)
	core := testutil.Descriptor("org.orbisgis.core", "5.1.0")
	view := testutil.Descriptor("org.orbisgis.view", "1.0.0", testutil.Requires("org.orbisgis.core", ">=5"))
	srv.Put("/core-5.1.0.pkg", testutil.Artifact(t, core))
	srv.Put("/view-1.0.0.pkg", testutil.Artifact(t, view))
	srv.Put("/catalog.toml", []byte(`[[module]]
id = "org.orbisgis.core"
version = "5.1.0"
location = "core-5.1.0.pkg"

[[module]]
id = "org.orbisgis.view"
version = "1.0.0"
name = "View"
location = "view-1.0.0.pkg"

[[module.requires]]
id = "org.orbisgis.core"
version = ">=5"
`))
	catalog := srv.URL("/catalog.toml")

	if _, err := h.run(t, "repo", "add", srv.URL("/nothing.toml")); !errors.Is(err, module.ErrSourceUnreachable) {
		t.Errorf("repo add of a missing catalog = %v, want ErrSourceUnreachable", err)
	}
	if out := h.mustRun(t, "repo", "add", catalog); !strings.Contains(out, "2 modules") {
		t.Errorf("repo add = %q", out)
	}
	if out := h.mustRun(t, "repo", "list"); !strings.Contains(out, catalog) {
		t.Errorf("repo list = %q", out)
	}

	out := h.mustRun(t, "module", "install", "--start", "org.orbisgis:view")
	if !strings.Contains(out, "org.orbisgis.view") || !strings.Contains(out, "started") {
		t.Errorf("module install = %q", out)
	}

	out = h.mustRun(t, "module", "list")
	for _, want := range []string{"org.orbisgis.core", "org.orbisgis.view", "5.1.0", "1.0.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("module list is missing %q:\n%s", want, out)
		}
	}

	out = h.mustRun(t, "module", "info", "org.orbisgis.view")
	if !strings.Contains(out, "Requirements") || !strings.Contains(out, "org.orbisgis.core") {
		t.Errorf("module info = %q", out)
	}

	if out := h.mustRun(t, "module", "uninstall", "org.orbisgis.view"); !strings.Contains(out, "uninstalled") {
		t.Errorf("module uninstall = %q", out)
	}
	if _, err := h.run(t, "module", "start", "org.orbisgis.view"); !errors.Is(err, module.ErrModuleNotFound) {
		t.Errorf("start after uninstall = %v, want ErrModuleNotFound", err)
	}

	h.mustRun(t, "repo", "remove", catalog)
	if out := h.mustRun(t, "repo", "list"); !strings.Contains(out, "No repositories") {
		t.Errorf("repo list after remove = %q", out)
	}
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	report := &provision.Report{Entries: []provision.EntryResult{
		{
			Entry:   provision.Entry{Index: 1, Source: "https://repo.example.org/core.pkg"},
			Fetch:   provision.OutcomeDownloaded,
			Install: provision.OutcomeInstalled,
			Module:  testutil.Descriptor("org.orbisgis.core", "5.1.0"),
		},
		{
			Entry: provision.Entry{Index: 2, Source: "https://repo.example.org/broken.pkg"},
			Fetch: provision.OutcomeFailed,
			Err:   errors.New("status 404"),
		},
	}}

	var buf bytes.Buffer
	err := printReport(&buf, report)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("printReport() = %v, want *ExitError", err)
	}
	out := buf.String()
	for _, want := range []string{"org.orbisgis.core 5.1.0", "broken.pkg", "status 404", "1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("report is missing %q:\n%s", want, out)
		}
	}
}

func TestRenderIssue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderIssue(&buf, module.NewLifecycleError(module.OpInstall, "org.orbisgis.view", module.ErrModuleNotFound), "dark")
	if !strings.Contains(buf.String(), "registered") {
		t.Errorf("no help rendered for a missing module:\n%s", buf.String())
	}

	buf.Reset()
	renderIssue(&buf, errors.New("plain failure"), "dark")
	if buf.Len() != 0 {
		t.Errorf("help rendered for an unclassified error:\n%s", buf.String())
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if got := formatErrorForDisplay(plain, false); got != "boom" {
		t.Errorf("formatErrorForDisplay(plain) = %q", got)
	}

	actionable := issue.NewErrorContext().
		WithOperation("provision workspace").
		WithSuggestion("Run 'orbisgis workspace init'").
		Wrap(plain).
		BuildError()
	if got := formatErrorForDisplay(actionable, false); !strings.Contains(got, "workspace init") {
		t.Errorf("formatErrorForDisplay(actionable) = %q", got)
	}
}
