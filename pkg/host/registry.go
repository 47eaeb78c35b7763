// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/orbisgis/framework/pkg/module"
)

// ErrAlreadyRegistered is returned when a name already has an activator.
var ErrAlreadyRegistered = errors.New("activator already registered")

type (
	// Activator is the code bound to a module. Start runs when the module is
	// started and Stop when it is stopped.
	Activator interface {
		Start(ctx context.Context) error
		Stop(ctx context.Context) error
	}

	// ActivatorFuncs adapts plain functions to Activator. Nil funcs are no-ops.
	ActivatorFuncs struct {
		OnStart func(ctx context.Context) error
		OnStop  func(ctx context.Context) error
	}

	// Registry maps symbolic names to activators. It is safe for concurrent use.
	Registry struct {
		mu         sync.RWMutex
		activators map[module.SymbolicName]Activator
	}
)

// Start implements Activator.
func (f ActivatorFuncs) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

// Stop implements Activator.
func (f ActivatorFuncs) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{activators: make(map[module.SymbolicName]Activator)}
}

// Register binds a to name.
func (r *Registry) Register(name module.SymbolicName, a Activator) error {
	if err := name.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.activators[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.activators[name] = a
	return nil
}

// Unregister removes the activator bound to name and reports whether one existed.
func (r *Registry) Unregister(name module.SymbolicName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.activators[name]
	delete(r.activators, name)
	return ok
}

// Lookup returns the activator bound to name.
func (r *Registry) Lookup(name module.SymbolicName) (Activator, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activators[name]
	return a, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []module.SymbolicName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]module.SymbolicName, 0, len(r.activators))
	for n := range r.activators {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
