// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/module"
	"github.com/orbisgis/framework/pkg/resolver"
)

type (
	// Resolver finds and deploys catalog modules. *resolver.Resolver
	// implements it.
	Resolver interface {
		Deployer
		Latest(name module.SymbolicName, constraint string) (module.Descriptor, bool)
	}

	// Manager keeps one Handle per symbolic name and exposes coordinate
	// based lifecycle operations. It is safe for concurrent use.
	Manager struct {
		catalog  resolver.Catalog
		runtime  host.Runtime
		resolver Resolver
		locks    *Locks
		logger   *log.Logger

		mu      sync.Mutex
		handles map[module.SymbolicName]*Handle
	}

	// ManagerOption configures a Manager.
	ManagerOption func(*Manager)

	// Status is one row of Manager.List.
	Status struct {
		Name        module.SymbolicName
		DisplayName string
		// Installed is the installed version, zero when not installed.
		Installed module.Version
		// Available is the greatest catalog version, zero when no catalog lists it.
		Available module.Version
		State     State
		ID        host.ID
		Category  []string
	}
)

// WithLogger sets the logger used by the manager and its handles.
func WithLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager. catalog backs List; r resolves coordinates
// and deploys modules into runtime.
func NewManager(catalog resolver.Catalog, runtime host.Runtime, r Resolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		catalog:  catalog,
		runtime:  runtime,
		resolver: r,
		locks:    &Locks{},
		logger:   log.New(io.Discard),
		handles:  make(map[module.SymbolicName]*Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install installs the latest catalog version of coord ("group:artifact" or
// a symbolic name). When no catalog offers the module it fails with
// module.ErrModuleNotFound and no handle is created.
func (m *Manager) Install(ctx context.Context, coord string) (*Handle, error) {
	name, err := module.ParseCoordinates(coord)
	if err != nil {
		return nil, module.NewLifecycleError(module.OpInstall, module.SymbolicName(coord), err)
	}

	h, err := m.handle(ctx, name)
	if err != nil {
		return nil, module.NewLifecycleError(module.OpInstall, name, err)
	}
	if h == nil {
		desc, ok := m.resolver.Latest(name, "")
		if !ok {
			return nil, module.NewLifecycleError(module.OpInstall, name, module.ErrModuleNotFound)
		}
		h = m.newHandle(desc)
	}

	if err := h.Install(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.handles[name] = h
	m.mu.Unlock()
	return h, nil
}

// Start starts the installed module coord.
func (m *Manager) Start(ctx context.Context, coord string) error {
	return m.do(ctx, coord, module.OpStart, (*Handle).Start)
}

// Stop stops the installed module coord.
func (m *Manager) Stop(ctx context.Context, coord string) error {
	return m.do(ctx, coord, module.OpStop, (*Handle).Stop)
}

// Update updates the installed module coord.
func (m *Manager) Update(ctx context.Context, coord string) error {
	return m.do(ctx, coord, module.OpUpdate, (*Handle).Update)
}

// Uninstall uninstalls the module coord and drops its handle.
func (m *Manager) Uninstall(ctx context.Context, coord string) error {
	err := m.do(ctx, coord, module.OpUninstall, (*Handle).Uninstall)
	if err != nil {
		return err
	}
	name, _ := module.ParseCoordinates(coord)
	m.mu.Lock()
	delete(m.handles, name)
	m.mu.Unlock()
	return nil
}

// Handle returns the handle of an installed module.
func (m *Manager) Handle(ctx context.Context, coord string) (*Handle, error) {
	name, err := module.ParseCoordinates(coord)
	if err != nil {
		return nil, err
	}
	h, err := m.handle(ctx, name)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", module.ErrModuleNotFound, name)
	}
	return h, nil
}

// List returns every module known to the catalog or the runtime, sorted by
// name.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	mods, err := m.runtime.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}

	rows := make(map[module.SymbolicName]*Status)
	for d := range m.catalog.Descriptors() {
		row, ok := rows[d.Name]
		if !ok {
			row = &Status{Name: d.Name, DisplayName: d.DisplayName, Category: d.Categories}
			rows[d.Name] = row
		}
		if d.Version.Compare(row.Available) > 0 {
			row.Available = d.Version
		}
	}
	for _, mod := range mods {
		row, ok := rows[mod.Name]
		if !ok {
			row = &Status{Name: mod.Name}
			rows[mod.Name] = row
		}
		if !row.Installed.IsZero() && mod.Version.Compare(row.Installed) < 0 {
			continue
		}
		row.Installed, row.ID = mod.Version, mod.ID
		if dn := mod.Headers[module.HeaderName]; dn != "" {
			row.DisplayName = dn
		}
		row.Category = module.ParseCategories(mod.Headers[module.HeaderCategory])
		row.State = StateInstalled
		if mod.State == host.StateActive || mod.State == host.StateStopping {
			row.State = StateStarted
		}
	}

	m.mu.Lock()
	for name, h := range m.handles {
		row, ok := rows[name]
		if !ok || row.ID != h.ID() || row.State != StateInstalled {
			continue
		}
		h.mu.Lock()
		if h.stopped {
			row.State = StateStopped
		}
		h.mu.Unlock()
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *Manager) do(ctx context.Context, coord string, op module.Operation, fn func(*Handle, context.Context) error) error {
	name, err := module.ParseCoordinates(coord)
	if err != nil {
		return module.NewLifecycleError(op, module.SymbolicName(coord), err)
	}
	h, err := m.handle(ctx, name)
	if err != nil {
		return module.NewLifecycleError(op, name, err)
	}
	if h == nil {
		return module.NewLifecycleError(op, name, module.ErrModuleNotFound)
	}
	return fn(h, ctx)
}

// handle returns the cached handle for name or builds one for a module the
// runtime already holds. It returns nil when the runtime does not hold name.
func (m *Manager) handle(ctx context.Context, name module.SymbolicName) (*Handle, error) {
	m.mu.Lock()
	h, ok := m.handles[name]
	m.mu.Unlock()
	if ok {
		if h.IsInstalled(ctx) {
			return h, nil
		}
		m.mu.Lock()
		if m.handles[name] == h {
			delete(m.handles, name)
		}
		m.mu.Unlock()
	}

	mods, err := m.runtime.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	mod, found := host.FindByName(mods, name)
	if !found {
		return nil, nil
	}
	h = m.newHandle(descriptorFromModule(mod), WithRuntimeID(mod.ID))

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.handles[name]; ok {
		return cur, nil
	}
	m.handles[name] = h
	return h, nil
}

func (m *Manager) newHandle(desc module.Descriptor, opts ...HandleOption) *Handle {
	opts = append([]HandleOption{WithLocks(m.locks), WithHandleLogger(m.logger)}, opts...)
	return NewHandle(desc, m.runtime, m.resolver, opts...)
}

func descriptorFromModule(mod host.Module) module.Descriptor {
	props := make(map[string]string)
	for k, v := range mod.Headers {
		switch k {
		case module.HeaderSymbolicName, module.HeaderVersion, module.HeaderName,
			module.HeaderDescription, module.HeaderCategory:
		default:
			props[k] = v
		}
	}
	return module.Descriptor{
		Name:        mod.Name,
		Version:     mod.Version,
		DisplayName: mod.Headers[module.HeaderName],
		Description: mod.Headers[module.HeaderDescription],
		Categories:  module.ParseCategories(mod.Headers[module.HeaderCategory]),
		Properties:  props,
		Location:    mod.Location,
	}
}
