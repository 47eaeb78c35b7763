// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/module"
	"github.com/orbisgis/framework/pkg/resolver"
)

const (
	StateUninstalled State = iota
	StateInstalled
	StateStarted
	StateStopped
)

type (
	// State is the lifecycle state of a Handle.
	State int

	// Deployer materializes a descriptor and its requirements in a runtime.
	Deployer interface {
		Deploy(ctx context.Context, target module.Descriptor, startAfterInstall bool) (resolver.Deployment, error)
	}

	// Handle drives the lifecycle of one module. Handles for the same name
	// must share a Locks value so their operations are serialized.
	Handle struct {
		desc     module.Descriptor
		runtime  host.Runtime
		deployer Deployer
		locks    *Locks
		logger   *log.Logger

		mu      sync.Mutex
		id      host.ID
		stopped bool
	}

	// HandleOption configures a Handle.
	HandleOption func(*Handle)
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// WithRuntimeID binds the handle to a module the runtime already holds.
func WithRuntimeID(id host.ID) HandleOption {
	return func(h *Handle) { h.id = id }
}

// WithLocks sets the lock set shared with other handles.
func WithLocks(l *Locks) HandleOption {
	return func(h *Handle) {
		if l != nil {
			h.locks = l
		}
	}
}

// WithHandleLogger sets the logger.
func WithHandleLogger(logger *log.Logger) HandleOption {
	return func(h *Handle) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandle creates a handle for desc. The runtime is the one the module
// lives in; deployer installs it together with its requirements.
func NewHandle(desc module.Descriptor, runtime host.Runtime, deployer Deployer, opts ...HandleOption) *Handle {
	h := &Handle{
		desc:     desc,
		runtime:  runtime,
		deployer: deployer,
		locks:    &Locks{},
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Descriptor returns the descriptor the handle was created with.
func (h *Handle) Descriptor() module.Descriptor { return h.desc.Clone() }

// ID returns the runtime ID, or host.Unassigned when not installed.
func (h *Handle) ID() host.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// live returns the runtime's view of the module. ok is false when the
// module is not installed; a module removed behind the handle's back resets
// the ID.
func (h *Handle) live(ctx context.Context) (m host.Module, ok bool, err error) {
	id := h.ID()
	if id == host.Unassigned {
		return host.Module{}, false, nil
	}
	m, err = h.runtime.Lookup(ctx, id)
	if errors.Is(err, host.ErrNotInstalled) {
		h.mu.Lock()
		if h.id == id {
			h.id, h.stopped = host.Unassigned, false
		}
		h.mu.Unlock()
		return host.Module{}, false, nil
	}
	if err != nil {
		return host.Module{}, false, err
	}
	return m, true, nil
}

// runtimeState is the runtime state, host.StateUninstalled when absent or
// unknown.
func (h *Handle) runtimeState(ctx context.Context) host.State {
	m, ok, err := h.live(ctx)
	if err != nil || !ok {
		return host.StateUninstalled
	}
	return m.State
}

// State reports the lifecycle state. A module stopped through this handle
// reports Stopped until it is started or uninstalled again.
func (h *Handle) State(ctx context.Context) (State, error) {
	m, ok, err := h.live(ctx)
	if err != nil {
		return StateUninstalled, err
	}
	if !ok {
		return StateUninstalled, nil
	}
	switch m.State {
	case host.StateActive, host.StateStopping:
		return StateStarted, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return StateStopped, nil
	}
	return StateInstalled, nil
}

// IsInstallReady reports whether the module is absent from the runtime.
func (h *Handle) IsInstallReady(ctx context.Context) bool {
	_, ok, err := h.live(ctx)
	return err == nil && !ok
}

// IsInstalled reports whether the runtime holds the module, in any state.
func (h *Handle) IsInstalled(ctx context.Context) bool {
	return h.runtimeState(ctx) != host.StateUninstalled
}

// IsStartReady reports whether the runtime has resolved the module.
func (h *Handle) IsStartReady(ctx context.Context) bool {
	return h.runtimeState(ctx) == host.StateResolved
}

// IsStarting reports whether the module is being started.
func (h *Handle) IsStarting(ctx context.Context) bool {
	return h.runtimeState(ctx) == host.StateStarting
}

// IsStarted reports whether the module is active.
func (h *Handle) IsStarted(ctx context.Context) bool {
	return h.runtimeState(ctx) == host.StateActive
}

// IsUpdateReady reports whether the module is installed.
func (h *Handle) IsUpdateReady(ctx context.Context) bool {
	return h.IsInstalled(ctx)
}

// IsStopReady reports whether the module is active.
func (h *Handle) IsStopReady(ctx context.Context) bool {
	return h.IsStarted(ctx)
}

// IsStopping reports whether the module is being stopped.
func (h *Handle) IsStopping(ctx context.Context) bool {
	return h.runtimeState(ctx) == host.StateStopping
}

// IsStopped reports whether the module is installed and not running or in
// transition.
func (h *Handle) IsStopped(ctx context.Context) bool {
	switch h.runtimeState(ctx) {
	case host.StateInstalled, host.StateResolved:
		return true
	default:
		return false
	}
}

// IsUninstallReady reports whether the module is installed.
func (h *Handle) IsUninstallReady(ctx context.Context) bool {
	return h.IsInstalled(ctx)
}

// IsUninstalled reports whether the runtime no longer holds the module.
func (h *Handle) IsUninstalled(ctx context.Context) bool {
	_, ok, err := h.live(ctx)
	return err == nil && !ok
}

// Install deploys the module and its requirements. The module is left
// installed, not started.
func (h *Handle) Install(ctx context.Context) error {
	unlock := h.locks.Lock(h.desc.Name)
	defer unlock()

	_, ok, err := h.live(ctx)
	if err != nil {
		return h.fail(module.OpInstall, err)
	}
	if ok {
		return h.fail(module.OpInstall, fmt.Errorf("%w: already installed", module.ErrInvalidTransition))
	}

	dep, err := h.deployer.Deploy(ctx, h.desc, false)
	if err != nil {
		return h.fail(module.OpInstall, err)
	}

	h.mu.Lock()
	h.id, h.stopped = dep.Target, false
	h.mu.Unlock()
	h.logger.Info("module installed", "module", h.desc.Name, "version", h.desc.Version, "id", dep.Target)
	return nil
}

// Start starts an installed or stopped module. Starting a started module is
// a no-op.
func (h *Handle) Start(ctx context.Context) error {
	unlock := h.locks.Lock(h.desc.Name)
	defer unlock()

	m, ok, err := h.live(ctx)
	switch {
	case err != nil:
		return h.fail(module.OpStart, err)
	case !ok:
		return h.fail(module.OpStart, fmt.Errorf("%w: not installed", module.ErrInvalidTransition))
	case m.State == host.StateActive:
		return nil
	case m.State != host.StateResolved:
		return h.fail(module.OpStart, fmt.Errorf("%w: runtime reports %s", module.ErrInvalidTransition, m.State))
	}

	if err := h.runtime.Start(ctx, m.ID); err != nil {
		return h.fail(module.OpStart, err)
	}
	h.mu.Lock()
	h.stopped = false
	h.mu.Unlock()
	h.logger.Info("module started", "module", h.desc.Name, "id", m.ID)
	return nil
}

// Update re-reads the module's artifact. A started module comes back started.
func (h *Handle) Update(ctx context.Context) error {
	unlock := h.locks.Lock(h.desc.Name)
	defer unlock()

	m, ok, err := h.live(ctx)
	switch {
	case err != nil:
		return h.fail(module.OpUpdate, err)
	case !ok:
		return h.fail(module.OpUpdate, fmt.Errorf("%w: not installed", module.ErrInvalidTransition))
	}

	if err := h.runtime.Update(ctx, m.ID); err != nil {
		return h.fail(module.OpUpdate, err)
	}
	h.logger.Info("module updated", "module", h.desc.Name, "id", m.ID)
	return nil
}

// Stop stops a started module. On failure the module stays started.
func (h *Handle) Stop(ctx context.Context) error {
	unlock := h.locks.Lock(h.desc.Name)
	defer unlock()

	m, ok, err := h.live(ctx)
	switch {
	case err != nil:
		return h.fail(module.OpStop, err)
	case !ok:
		return h.fail(module.OpStop, fmt.Errorf("%w: not installed", module.ErrInvalidTransition))
	case m.State != host.StateActive:
		return h.fail(module.OpStop, fmt.Errorf("%w: runtime reports %s", module.ErrInvalidTransition, m.State))
	}

	if err := h.runtime.Stop(ctx, m.ID); err != nil {
		return h.fail(module.OpStop, err)
	}
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.logger.Info("module stopped", "module", h.desc.Name, "id", m.ID)
	return nil
}

// Uninstall removes the module from the runtime and resets the handle's ID.
// A later Install starts from scratch and receives a new ID.
func (h *Handle) Uninstall(ctx context.Context) error {
	unlock := h.locks.Lock(h.desc.Name)
	defer unlock()

	m, ok, err := h.live(ctx)
	switch {
	case err != nil:
		return h.fail(module.OpUninstall, err)
	case !ok:
		return h.fail(module.OpUninstall, fmt.Errorf("%w: not installed", module.ErrInvalidTransition))
	}

	if err := h.runtime.Uninstall(ctx, m.ID); err != nil {
		return h.fail(module.OpUninstall, err)
	}
	h.mu.Lock()
	h.id, h.stopped = host.Unassigned, false
	h.mu.Unlock()
	h.logger.Info("module uninstalled", "module", h.desc.Name, "id", m.ID)
	return nil
}

func (h *Handle) fail(op module.Operation, err error) error {
	lerr := module.NewLifecycleError(op, h.desc.Name, err)
	h.logger.Warn("lifecycle operation failed", "op", op, "module", h.desc.Name, "err", err)
	return lerr
}

// Property returns the live header key when the module is installed, and
// otherwise the descriptor's value for it.
func (h *Handle) Property(ctx context.Context, key string) string {
	if m, ok, err := h.live(ctx); err == nil && ok {
		return m.Headers[key]
	}
	return h.desc.Headers()[key]
}

// SymbolicName returns the module's symbolic name.
func (h *Handle) SymbolicName(ctx context.Context) module.SymbolicName {
	return module.SymbolicName(h.Property(ctx, module.HeaderSymbolicName))
}

// Version returns the installed version, falling back to the descriptor's.
func (h *Handle) Version(ctx context.Context) module.Version {
	if v, err := module.ParseVersion(h.Property(ctx, module.HeaderVersion)); err == nil && !v.IsZero() {
		return v
	}
	return h.desc.Version
}

// DisplayName returns the human readable name.
func (h *Handle) DisplayName(ctx context.Context) string {
	return h.Property(ctx, module.HeaderName)
}

// Description returns the module description.
func (h *Handle) Description(ctx context.Context) string {
	return h.Property(ctx, module.HeaderDescription)
}

// Categories returns the category tags in declaration order. A module
// without categories yields an empty slice.
func (h *Handle) Categories(ctx context.Context) []string {
	return module.ParseCategories(h.Property(ctx, module.HeaderCategory))
}

// Properties returns every metadata entry, live headers when installed.
func (h *Handle) Properties(ctx context.Context) map[string]string {
	if m, ok, err := h.live(ctx); err == nil && ok {
		return maps.Clone(m.Headers)
	}
	return h.desc.Headers()
}
