// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"sync"

	"github.com/orbisgis/framework/pkg/module"
)

type (
	// Locks serializes lifecycle operations per symbolic name. The zero
	// value is ready to use.
	Locks struct {
		mu    sync.Mutex
		locks map[module.SymbolicName]*refLock
	}

	refLock struct {
		mu   sync.Mutex
		refs int
	}
)

// Lock blocks until name is free and returns the matching unlock func.
func (l *Locks) Lock(name module.SymbolicName) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[module.SymbolicName]*refLock)
	}
	rl, ok := l.locks[name]
	if !ok {
		rl = &refLock{}
		l.locks[name] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}
