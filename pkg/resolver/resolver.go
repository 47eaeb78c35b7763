// SPDX-License-Identifier: MPL-2.0

// Package resolver computes the dependency closure of a module against the
// Repository Index and deploys it into a host runtime in dependency order.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/orbisgis/framework/internal/dag"
	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/module"
)

type (
	// Catalog lists the descriptors available for resolution.
	Catalog interface {
		Descriptors() iter.Seq[module.Descriptor]
	}

	// Opener streams an artifact from a descriptor location.
	Opener interface {
		Open(ctx context.Context, source string) (io.ReadCloser, error)
	}

	// Resolver resolves and deploys modules. It holds no state of its own
	// between calls.
	Resolver struct {
		catalog Catalog
		runtime host.Runtime
		opener  Opener
		logger  *log.Logger
	}

	// Option configures a Resolver.
	Option func(*Resolver)

	// Result is the outcome of one resolution pass. Required and Optional
	// hold the descriptors that must be installed besides the target, in
	// dependency order. Requirements already met by installed modules do not
	// appear anywhere.
	Result struct {
		Target              module.Descriptor
		Required            []module.Descriptor
		Optional            []module.Descriptor
		Unsatisfied         []module.Requirement
		UnsatisfiedOptional []module.Requirement

		// order is the full install order, target last.
		order []module.Descriptor
	}

	// Deployment reports the runtime IDs produced by Deploy. Installed lists
	// every module installed by the call, target included, in install order.
	Deployment struct {
		Target    host.ID
		Installed []host.ID
	}

	node struct {
		desc     module.Descriptor
		optional bool
		deps     []module.SymbolicName
		missing  []module.Requirement
	}
)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Resolver over catalog and runtime. opener fetches artifacts
// during Deploy.
func New(catalog Catalog, runtime host.Runtime, opener Opener, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: catalog,
		runtime: runtime,
		opener:  opener,
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Satisfied reports whether every mandatory requirement can be met.
func (res Result) Satisfied() bool { return len(res.Unsatisfied) == 0 }

// Latest returns the catalog descriptor named name with the strictly
// greatest version matching constraint. When two sources offer the same
// version the one registered first wins.
func (r *Resolver) Latest(name module.SymbolicName, constraint string) (module.Descriptor, bool) {
	var (
		best  module.Descriptor
		found bool
	)
	for d := range r.catalog.Descriptors() {
		if d.Name != name {
			continue
		}
		if ok, err := d.Version.Matches(constraint); err != nil || !ok {
			continue
		}
		if !found || d.Version.Compare(best.Version) > 0 {
			best, found = d, true
		}
	}
	return best, found
}

// Resolve walks the requirements of target transitively. A requirement met
// by an installed module is satisfied in place; the rest are looked up in
// the catalog with Latest. Modules reached only through optional
// requirements are reported as optional.
func (r *Resolver) Resolve(ctx context.Context, target module.Descriptor) (Result, error) {
	installed, err := r.runtime.ListInstalled(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list installed modules: %w", err)
	}

	nodes, order, err := r.closure(ctx, target, installed)
	if err != nil {
		return Result{}, err
	}

	res := Result{Target: target}
	for _, name := range r.sortNodes(nodes, order) {
		n := nodes[name]
		for _, req := range n.missing {
			if n.optional || req.Optional {
				res.UnsatisfiedOptional = append(res.UnsatisfiedOptional, req)
			} else {
				res.Unsatisfied = append(res.Unsatisfied, req)
			}
		}
		res.order = append(res.order, n.desc)
		switch {
		case name == target.Name:
		case n.optional:
			res.Optional = append(res.Optional, n.desc)
		default:
			res.Required = append(res.Required, n.desc)
		}
	}
	return res, nil
}

// closure discovers every module reachable from target. order records
// discovery order.
func (r *Resolver) closure(ctx context.Context, target module.Descriptor, installed []host.Module) (map[module.SymbolicName]*node, []module.SymbolicName, error) {
	nodes := map[module.SymbolicName]*node{target.Name: {desc: target}}
	order := []module.SymbolicName{target.Name}
	queue := []module.SymbolicName{target.Name}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		n := nodes[queue[0]]
		queue = queue[1:]
		n.deps, n.missing = n.deps[:0], n.missing[:0]

		for _, req := range n.desc.Requires {
			if req.Name == n.desc.Name {
				continue
			}
			if installedSatisfies(installed, req) {
				continue
			}
			optional := n.optional || req.Optional

			if dep, ok := nodes[req.Name]; ok {
				if !req.SatisfiedBy(dep.desc.Name, dep.desc.Version) {
					n.missing = append(n.missing, req)
					continue
				}
				n.deps = append(n.deps, req.Name)
				if dep.optional && !optional {
					dep.optional = false
					queue = append(queue, req.Name)
				}
				continue
			}

			d, ok := r.Latest(req.Name, req.Constraint)
			if !ok {
				n.missing = append(n.missing, req)
				continue
			}
			nodes[req.Name] = &node{desc: d, optional: optional}
			order = append(order, req.Name)
			queue = append(queue, req.Name)
			n.deps = append(n.deps, req.Name)
		}
	}
	return nodes, order, nil
}

// sortNodes orders nodes so that dependencies come first. A cycle falls back
// to discovery order reversed, which still puts leaves before the target.
func (r *Resolver) sortNodes(nodes map[module.SymbolicName]*node, order []module.SymbolicName) []module.SymbolicName {
	g := dag.New[module.SymbolicName]()
	for _, name := range order {
		g.AddNode(name)
	}
	for _, name := range order {
		for _, dep := range nodes[name].deps {
			g.AddEdge(dep, name)
		}
	}
	sorted, err := g.TopologicalSort()
	if err == nil {
		return sorted
	}

	var cycle *dag.CycleError[module.SymbolicName]
	if errors.As(err, &cycle) {
		r.logger.Warn("dependency cycle, falling back to discovery order", "modules", cycle.Cycle)
	}
	out := make([]module.SymbolicName, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, order[i])
	}
	return out
}

// Deploy resolves target and installs every required module, the optional
// ones that resolve, and the target itself, in dependency order. It fails
// with *module.UnresolvedDependencyError when a mandatory requirement cannot
// be met, before anything is installed. Optional modules that fail to
// install are logged and skipped. With startAfterInstall the target and
// every module installed by the call are started.
func (r *Resolver) Deploy(ctx context.Context, target module.Descriptor, startAfterInstall bool) (Deployment, error) {
	res, err := r.Resolve(ctx, target)
	if err != nil {
		return Deployment{}, err
	}
	if !res.Satisfied() {
		return Deployment{}, &module.UnresolvedDependencyError{Target: target.Name, Missing: res.Unsatisfied}
	}

	optional := make(map[module.SymbolicName]bool, len(res.Optional))
	for _, d := range res.Optional {
		optional[d.Name] = true
	}
	var dep Deployment
	for _, d := range res.order {
		id, fresh, err := r.install(ctx, d)
		if err != nil {
			if optional[d.Name] && ctx.Err() == nil {
				r.logger.Warn("optional module not installed", "module", d.Name, "version", d.Version, "err", err)
				continue
			}
			return dep, fmt.Errorf("deploy %s: %w", d.ID(), err)
		}
		if fresh {
			dep.Installed = append(dep.Installed, id)
		}
		if d.Name == target.Name {
			dep.Target = id
		}
	}

	if startAfterInstall {
		toStart := dep.Installed
		if !slices.Contains(toStart, dep.Target) {
			toStart = append(slices.Clone(toStart), dep.Target)
		}
		for _, id := range toStart {
			if err := r.runtime.Start(ctx, id); err != nil {
				if id == dep.Target {
					return dep, fmt.Errorf("start %s: %w", target.ID(), err)
				}
				r.logger.Warn("dependency did not start", "id", id, "err", err)
			}
		}
	}
	r.logger.Debug("module deployed", "module", target.Name, "version", target.Version, "installed", len(dep.Installed))
	return dep, nil
}

// install returns the ID of an installed module with the same name and
// version, or installs d from its location. fresh is true when the module
// was installed by this call.
func (r *Resolver) install(ctx context.Context, d module.Descriptor) (id host.ID, fresh bool, err error) {
	mods, err := r.runtime.ListInstalled(ctx)
	if err != nil {
		return host.Unassigned, false, err
	}
	for _, m := range mods {
		if m.Name == d.Name && m.Version.Equal(d.Version) {
			return m.ID, false, nil
		}
	}

	if d.Location == "" {
		return host.Unassigned, false, fmt.Errorf("%s has no artifact location", d.ID())
	}
	rc, err := r.opener.Open(ctx, d.Location)
	if err != nil {
		return host.Unassigned, false, &module.ArtifactFetchError{Source: d.Location, Err: err}
	}
	defer func() { _ = rc.Close() }()
	id, err = r.runtime.Install(ctx, d.Location, rc)
	return id, err == nil, err
}

func installedSatisfies(installed []host.Module, req module.Requirement) bool {
	for _, m := range installed {
		if req.SatisfiedBy(m.Name, m.Version) {
			return true
		}
	}
	return false
}
