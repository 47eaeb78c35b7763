// SPDX-License-Identifier: MPL-2.0

package host

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/orbisgis/framework/pkg/module"
)

const defaultMaxArtifactBytes = 512 << 20

type (
	// Opener re-reads an artifact from its install location during Update.
	Opener interface {
		Open(ctx context.Context, location string) (io.ReadCloser, error)
	}

	// Local is a Runtime that keeps modules in process memory and, when a
	// storage directory is configured, persists them so a later process sees
	// the same installed set. Resolution is lazy: a module is resolved once
	// every mandatory requirement is provided by a resolved module.
	//
	// Modules restored as active are not re-activated on load.
	Local struct {
		mu       sync.Mutex
		modules  map[ID]*entry
		nextID   ID
		store    *store
		registry *Registry
		opener   Opener
		logger   *log.Logger
		maxBytes int64
	}

	// LocalOption configures a Local runtime.
	LocalOption func(*Local)

	entry struct {
		id       ID
		location string
		desc     module.Descriptor
		state    State
		data     []byte
	}
)

var _ Runtime = (*Local)(nil)

// WithStorageDir persists installed modules under dir.
func WithStorageDir(dir string) LocalOption {
	return func(l *Local) {
		if dir != "" {
			l.store = &store{dir: dir}
		}
	}
}

// WithRegistry sets the activator registry consulted on start and stop.
func WithRegistry(r *Registry) LocalOption {
	return func(l *Local) { l.registry = r }
}

// WithOpener sets how Update re-reads artifacts. Without an opener, Update
// re-applies the stored copy.
func WithOpener(o Opener) LocalOption {
	return func(l *Local) { l.opener = o }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal creates a Local runtime and loads any persisted state.
func NewLocal(opts ...LocalOption) (*Local, error) {
	l := &Local{
		modules:  make(map[ID]*entry),
		logger:   log.New(io.Discard),
		maxBytes: defaultMaxArtifactBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store != nil {
		if err := l.load(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// ListInstalled returns a snapshot of every installed module ordered by ID.
func (l *Local) ListInstalled(ctx context.Context) ([]Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Module, 0, len(l.modules))
	for _, e := range l.modules {
		out = append(out, e.snapshot())
	}
	slices.SortFunc(out, func(a, b Module) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Lookup returns the module with the given ID.
func (l *Local) Lookup(ctx context.Context, id ID) (Module, error) {
	if err := ctx.Err(); err != nil {
		return Module{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.modules[id]
	if !ok {
		return Module{}, fmt.Errorf("%w: id %s", ErrNotInstalled, id)
	}
	return e.snapshot(), nil
}

// Install reads an artifact from r and records it under location. Installing
// the same name and version from the same location again returns the
// existing ID; from another location it fails with ErrDuplicate.
func (l *Local) Install(ctx context.Context, location string, r io.Reader) (ID, error) {
	if err := ctx.Err(); err != nil {
		return Unassigned, err
	}
	data, err := l.readArtifact(r)
	if err != nil {
		return Unassigned, err
	}
	desc, err := module.ReadArtifactBytes(data)
	if err != nil {
		return Unassigned, err
	}
	desc.Location = location

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.modules {
		if e.desc.Name != desc.Name || !e.desc.Version.Equal(desc.Version) {
			continue
		}
		if e.location == location {
			return e.id, nil
		}
		return Unassigned, fmt.Errorf("%w: %s (id %s)", ErrDuplicate, desc.ID(), e.id)
	}

	l.nextID++
	e := &entry{id: l.nextID, location: location, desc: desc, state: StateInstalled, data: data}
	l.modules[e.id] = e
	if err := l.store.saveArtifact(e); err != nil {
		delete(l.modules, e.id)
		return Unassigned, err
	}
	l.resolveLocked()
	if err := l.persistLocked(); err != nil {
		return Unassigned, err
	}
	l.logger.Debug("module installed", "module", desc.Name, "version", desc.Version, "id", e.id)
	return e.id, nil
}

// Start resolves the module if needed and runs its activator. Starting an
// active module is a no-op.
func (l *Local) Start(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	e, ok := l.modules[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: id %s", ErrNotInstalled, id)
	}
	switch e.state {
	case StateActive:
		l.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		l.mu.Unlock()
		return &StateError{ID: id, Name: e.desc.Name, State: e.state, Op: "start"}
	case StateInstalled:
		l.resolveLocked()
		if e.state == StateInstalled {
			missing := l.missingLocked(e, nil)
			l.mu.Unlock()
			return &UnresolvedError{Name: e.desc.Name, Missing: missing}
		}
	}
	e.state = StateStarting
	act, hasActivator := l.registry.Lookup(e.desc.Name)
	l.mu.Unlock()

	var actErr error
	if hasActivator {
		actErr = act.Start(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if actErr != nil {
		e.state = StateResolved
		return fmt.Errorf("activator of %s: %w", e.desc.Name, actErr)
	}
	e.state = StateActive
	l.logger.Debug("module started", "module", e.desc.Name, "id", id)
	return l.persistLocked()
}

// Stop runs the module's activator Stop and returns it to resolved. Stopping
// a module that is not active is a no-op. When the activator fails the
// module stays active.
func (l *Local) Stop(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	e, ok := l.modules[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: id %s", ErrNotInstalled, id)
	}
	switch e.state {
	case StateActive:
	case StateStarting, StateStopping:
		l.mu.Unlock()
		return &StateError{ID: id, Name: e.desc.Name, State: e.state, Op: "stop"}
	default:
		l.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	act, hasActivator := l.registry.Lookup(e.desc.Name)
	l.mu.Unlock()

	var actErr error
	if hasActivator {
		actErr = act.Stop(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if actErr != nil {
		e.state = StateActive
		return fmt.Errorf("activator of %s: %w", e.desc.Name, actErr)
	}
	e.state = StateResolved
	l.logger.Debug("module stopped", "module", e.desc.Name, "id", id)
	return l.persistLocked()
}

// Update re-reads the artifact from its location and swaps it in. An active
// module is stopped before the swap and started again afterwards.
func (l *Local) Update(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	e, ok := l.modules[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: id %s", ErrNotInstalled, id)
	}
	if e.state == StateStarting || e.state == StateStopping {
		l.mu.Unlock()
		return &StateError{ID: id, Name: e.desc.Name, State: e.state, Op: "update"}
	}
	name, location, data, wasActive := e.desc.Name, e.location, e.data, e.state == StateActive
	l.mu.Unlock()

	if l.opener != nil {
		rc, err := l.opener.Open(ctx, location)
		if err != nil {
			return fmt.Errorf("reopen %s: %w", location, err)
		}
		data, err = l.readArtifact(rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	desc, err := module.ReadArtifactBytes(data)
	if err != nil {
		return err
	}
	if desc.Name != name {
		return fmt.Errorf("update of %s provides %s", name, desc.Name)
	}
	desc.Location = location

	if wasActive {
		if err := l.Stop(ctx, id); err != nil {
			return err
		}
	}

	l.mu.Lock()
	if cur, ok := l.modules[id]; !ok || cur != e {
		l.mu.Unlock()
		return fmt.Errorf("%w: id %s", ErrNotInstalled, id)
	}
	e.desc, e.data, e.state = desc, data, StateInstalled
	err = l.store.saveArtifact(e)
	if err == nil {
		l.resolveLocked()
		err = l.persistLocked()
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.logger.Debug("module updated", "module", desc.Name, "version", desc.Version, "id", id)

	if wasActive {
		return l.Start(ctx, id)
	}
	return nil
}

// Uninstall stops the module if active and removes it. Its ID is never reused.
func (l *Local) Uninstall(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	e, ok := l.modules[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: id %s", ErrNotInstalled, id)
	}
	name, state := e.desc.Name, e.state
	l.mu.Unlock()

	switch state {
	case StateStarting, StateStopping:
		return &StateError{ID: id, Name: name, State: state, Op: "uninstall"}
	case StateActive:
		if err := l.Stop(ctx, id); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.modules[id]; !ok || cur != e {
		return fmt.Errorf("%w: id %s", ErrNotInstalled, id)
	}
	delete(l.modules, id)
	e.state = StateUninstalled
	if err := l.store.removeArtifact(e.id); err != nil {
		l.logger.Warn("failed to remove module storage", "module", e.desc.Name, "id", id, "err", err)
	}
	l.logger.Debug("module uninstalled", "module", e.desc.Name, "id", id)
	return l.persistLocked()
}

func (l *Local) readArtifact(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("artifact exceeds %d bytes", l.maxBytes)
	}
	return data, nil
}

// resolveLocked promotes installed modules to resolved. Every installed
// module starts as a candidate and candidates with unmet requirements are
// dropped until none remain, so modules that require each other resolve
// together.
func (l *Local) resolveLocked() {
	cand := make(map[*entry]bool)
	for _, e := range l.modules {
		if e.state == StateInstalled {
			cand[e] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for e := range cand {
			if len(l.missingLocked(e, cand)) > 0 {
				delete(cand, e)
				changed = true
			}
		}
	}
	for e := range cand {
		e.state = StateResolved
	}
}

// missingLocked returns the mandatory requirements of e that no resolved
// module, and no module in cand, provides.
func (l *Local) missingLocked(e *entry, cand map[*entry]bool) []module.Requirement {
	var missing []module.Requirement
	for _, req := range e.desc.Requires {
		if req.Optional {
			continue
		}
		found := false
		for _, p := range l.modules {
			if p != e && (p.state >= StateResolved || cand[p]) && req.SatisfiedBy(p.desc.Name, p.desc.Version) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, req)
		}
	}
	return missing
}

func (e *entry) snapshot() Module {
	return Module{
		ID:       e.id,
		Name:     e.desc.Name,
		Version:  e.desc.Version,
		State:    e.state,
		Location: e.location,
		Headers:  e.desc.Headers(),
	}
}
