// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"slices"
	"testing"

	"github.com/orbisgis/framework/internal/testutil"
	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/module"
)

type sliceCatalog []module.Descriptor

func (c sliceCatalog) Descriptors() iter.Seq[module.Descriptor] {
	return slices.Values(c)
}

// artifacts serves artifact bytes for every descriptor location.
type artifacts map[string][]byte

func (a artifacts) Open(_ context.Context, source string) (io.ReadCloser, error) {
	data, ok := a[source]
	if !ok {
		return nil, errors.New("404 " + source)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func entry(name, version string, reqs ...module.Requirement) module.Descriptor {
	d := testutil.Descriptor(name, version, reqs...)
	d.Location = "https://repo.example.org/" + name + "-" + version + ".pkg"
	return d
}

func optional(name string) module.Requirement {
	return module.Requirement{Name: module.SymbolicName(name), Optional: true}
}

func publish(t *testing.T, descs ...module.Descriptor) artifacts {
	t.Helper()
	a := artifacts{}
	for _, d := range descs {
		a[d.Location] = testutil.Artifact(t, d)
	}
	return a
}

func newRuntime(t *testing.T) *host.Local {
	t.Helper()
	rt, err := host.NewLocal()
	if err != nil {
		t.Fatal(err)
	}
	return rt
}

func ids(descs []module.Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.ID()
	}
	return out
}

func TestLatest(t *testing.T) {
	t.Parallel()

	first := entry("org.core", "5.1.0")
	first.Source = "https://a.example.org/catalog.toml"
	tie := entry("org.core", "5.1.0")
	tie.Source = "https://b.example.org/catalog.toml"

	cat := sliceCatalog{
		entry("org.core", "4.9.0"),
		first,
		entry("org.core", "5.0.3"),
		tie,
		entry("org.core", "6.0.0-rc.1"),
		entry("org.other", "9.0.0"),
	}
	r := New(cat, newRuntime(t), artifacts{})

	tests := []struct {
		constraint string
		want       string
		source     string
	}{
		{"", "6.0.0-rc.1", ""},
		{"^5", "5.1.0", first.Source},
		{"<5", "4.9.0", ""},
		{">=7", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			t.Parallel()
			d, ok := r.Latest("org.core", tt.constraint)
			if tt.want == "" {
				if ok {
					t.Fatalf("Latest found %s", d.ID())
				}
				return
			}
			if !ok || d.Version.String() != tt.want {
				t.Fatalf("Latest(%q) = %s, %v; want %s", tt.constraint, d.ID(), ok, tt.want)
			}
			if tt.source != "" && d.Source != tt.source {
				t.Errorf("tie picked source %s, want %s", d.Source, tt.source)
			}
		})
	}
}

func TestLatest_PicksGreatestRegardlessOfOrder(t *testing.T) {
	t.Parallel()

	versions := []string{"1.0.0", "1.10.0", "1.2.0", "1.9.9"}
	for i := range versions {
		rotated := append(slices.Clone(versions[i:]), versions[:i]...)
		var cat sliceCatalog
		for _, v := range rotated {
			cat = append(cat, entry("org.a", v))
		}
		d, ok := New(cat, newRuntime(t), artifacts{}).Latest("org.a", "")
		if !ok || d.Version.String() != "1.10.0" {
			t.Errorf("order %v: Latest = %s", rotated, d.ID())
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	commons := entry("org.commons", "1.3.0")
	core := entry("org.core", "5.1.0", testutil.Requires("org.commons", ">=1.2"), optional("org.h2"))
	h2 := entry("org.h2", "2.0.0", testutil.Requires("org.jts", ""))
	view := entry("org.view", "1.0.0", testutil.Requires("org.core", "^5"), optional("org.missing"))

	r := New(sliceCatalog{commons, core, h2, view}, newRuntime(t), artifacts{})
	res, err := r.Resolve(ctx, view)
	if err != nil {
		t.Fatal(err)
	}

	if !res.Satisfied() {
		t.Errorf("Unsatisfied = %v", res.Unsatisfied)
	}
	if got, want := ids(res.Required), []string{"org.commons@1.3.0", "org.core@5.1.0"}; !slices.Equal(got, want) {
		t.Errorf("Required = %v, want %v", got, want)
	}
	if got, want := ids(res.Optional), []string{"org.h2@2.0.0"}; !slices.Equal(got, want) {
		t.Errorf("Optional = %v, want %v", got, want)
	}
	var missing []module.SymbolicName
	for _, req := range res.UnsatisfiedOptional {
		missing = append(missing, req.Name)
	}
	slices.Sort(missing)
	if want := []module.SymbolicName{"org.jts", "org.missing"}; !slices.Equal(missing, want) {
		t.Errorf("UnsatisfiedOptional = %v, want %v", missing, want)
	}
}

func TestResolve_InstalledSatisfiesInPlace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	commons := entry("org.commons", "1.3.0")
	core := entry("org.core", "5.1.0", testutil.Requires("org.commons", ""))
	rt := newRuntime(t)
	if _, err := rt.Install(ctx, commons.Location, bytes.NewReader(testutil.Artifact(t, commons))); err != nil {
		t.Fatal(err)
	}

	res, err := New(sliceCatalog{core}, rt, artifacts{}).Resolve(ctx, core)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Satisfied() || len(res.Required) != 0 {
		t.Errorf("Result = %+v, want satisfied with nothing to install", res)
	}
}

func TestResolve_OptionalPromotedWhenRequired(t *testing.T) {
	t.Parallel()

	lib := entry("org.lib", "1.0.0")
	a := entry("org.a", "1.0.0", optional("org.lib"))
	b := entry("org.b", "1.0.0", testutil.Requires("org.lib", ""))
	target := entry("org.app", "1.0.0", testutil.Requires("org.a", ""), testutil.Requires("org.b", ""))

	res, err := New(sliceCatalog{lib, a, b, target}, newRuntime(t), artifacts{}).Resolve(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Optional) != 0 {
		t.Errorf("Optional = %v, want none", ids(res.Optional))
	}
	if !slices.Contains(ids(res.Required), "org.lib@1.0.0") {
		t.Errorf("Required = %v, want org.lib", ids(res.Required))
	}
}

func TestResolve_UnsatisfiedAndCanceled(t *testing.T) {
	t.Parallel()

	core := entry("org.core", "5.1.0", testutil.Requires("org.commons", ">=2"))
	cat := sliceCatalog{core, entry("org.commons", "1.3.0")}
	r := New(cat, newRuntime(t), artifacts{})

	res, err := r.Resolve(context.Background(), core)
	if err != nil {
		t.Fatal(err)
	}
	if res.Satisfied() || len(res.Unsatisfied) != 1 || res.Unsatisfied[0].Name != "org.commons" {
		t.Errorf("Unsatisfied = %v", res.Unsatisfied)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, core); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled Resolve error = %v", err)
	}
}

func TestDeploy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	commons := entry("org.commons", "1.3.0")
	core := entry("org.core", "5.1.0", testutil.Requires("org.commons", ""))
	h2 := entry("org.h2", "2.0.0")
	view := entry("org.view", "1.0.0", testutil.Requires("org.core", ""), optional("org.h2"))

	rt := newRuntime(t)
	// h2 is listed but its artifact is unreachable.
	r := New(sliceCatalog{commons, core, h2, view}, rt, publish(t, commons, core, view))

	dep, err := r.Deploy(ctx, view, true)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(dep.Installed) != 3 {
		t.Fatalf("Installed = %v, want three modules", dep.Installed)
	}

	mods, err := rt.ListInstalled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var order []module.SymbolicName
	for _, m := range mods {
		order = append(order, m.Name)
		if m.State != host.StateActive {
			t.Errorf("%s state = %s, want active", m.Name, m.State)
		}
	}
	if want := []module.SymbolicName{"org.commons", "org.core", "org.view"}; !slices.Equal(order, want) {
		t.Errorf("install order = %v, want %v", order, want)
	}
	target, err := rt.Lookup(ctx, dep.Target)
	if err != nil || target.Name != "org.view" {
		t.Errorf("Target = %v, %v", target, err)
	}

	again, err := r.Deploy(ctx, view, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Installed) != 0 || again.Target != dep.Target {
		t.Errorf("second Deploy = %+v, want nothing new and the same target", again)
	}
}

func TestDeploy_Unresolved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	core := entry("org.core", "5.1.0", testutil.Requires("org.commons", ""))
	rt := newRuntime(t)
	_, err := New(sliceCatalog{core}, rt, publish(t, core)).Deploy(ctx, core, false)

	var ude *module.UnresolvedDependencyError
	if !errors.As(err, &ude) || ude.Target != "org.core" {
		t.Fatalf("Deploy error = %v, want UnresolvedDependencyError", err)
	}
	if mods, _ := rt.ListInstalled(ctx); len(mods) != 0 {
		t.Errorf("installed %d modules despite unresolved dependency", len(mods))
	}
}

func TestDeploy_RequiredFetchFails(t *testing.T) {
	t.Parallel()

	commons := entry("org.commons", "1.3.0")
	core := entry("org.core", "5.1.0", testutil.Requires("org.commons", ""))
	_, err := New(sliceCatalog{commons, core}, newRuntime(t), publish(t, core)).Deploy(context.Background(), core, false)
	if !errors.Is(err, module.ErrArtifactFetchFailed) {
		t.Errorf("Deploy error = %v, want ErrArtifactFetchFailed", err)
	}
}

func TestDeploy_Cycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a := entry("org.a", "1.0.0", testutil.Requires("org.b", ""))
	b := entry("org.b", "1.0.0", testutil.Requires("org.a", ""))
	rt := newRuntime(t)

	dep, err := New(sliceCatalog{a, b}, rt, publish(t, a, b)).Deploy(ctx, a, true)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(dep.Installed) != 2 {
		t.Errorf("Installed = %v", dep.Installed)
	}
	m, err := rt.Lookup(ctx, dep.Target)
	if err != nil || m.State != host.StateActive {
		t.Errorf("target = %+v, %v; want active", m, err)
	}
}
