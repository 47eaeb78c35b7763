// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/orbisgis/framework/pkg/module"
)

// Unassigned is the ID of a module that the runtime does not hold.
const Unassigned ID = 0

const (
	StateUninstalled State = iota
	StateInstalled
	StateResolved
	StateStarting
	StateActive
	StateStopping
)

var (
	// ErrNotInstalled is returned for an ID the runtime does not know.
	ErrNotInstalled = errors.New("module not installed")
	// ErrUnresolved is returned when a module's requirements are not met by installed modules.
	ErrUnresolved = errors.New("module requirements not satisfied")
	// ErrInvalidState is the sentinel wrapped by StateError.
	ErrInvalidState = errors.New("invalid module state")
	// ErrDuplicate is returned when the same name and version is installed twice.
	ErrDuplicate = errors.New("module already installed")
)

type (
	// ID is the runtime-assigned identifier of an installed module. IDs are
	// positive and never reused.
	ID int64

	// State is the runtime-reported state of a module.
	State int

	// Module is a snapshot of one installed module.
	Module struct {
		ID       ID
		Name     module.SymbolicName
		Version  module.Version
		State    State
		Location string
		// Headers is the live metadata of the installed artifact.
		Headers map[string]string
	}

	// Runtime is the host runtime contract. Implementations must re-validate
	// the module state inside every mutating call.
	Runtime interface {
		ListInstalled(ctx context.Context) ([]Module, error)
		Lookup(ctx context.Context, id ID) (Module, error)
		Install(ctx context.Context, location string, r io.Reader) (ID, error)
		Start(ctx context.Context, id ID) error
		Stop(ctx context.Context, id ID) error
		Update(ctx context.Context, id ID) error
		Uninstall(ctx context.Context, id ID) error
	}

	// StateError is returned when an operation is not allowed in the module's current state.
	StateError struct {
		ID    ID
		Name  module.SymbolicName
		State State
		Op    string
	}

	// UnresolvedError lists the requirements that kept a module from resolving.
	UnresolvedError struct {
		Name    module.SymbolicName
		Missing []module.Requirement
	}
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	case StateResolved:
		return "resolved"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for st := StateUninstalled; st <= StateStopping; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return StateUninstalled, fmt.Errorf("%w: unknown state %q", ErrInvalidState, s)
}

// String returns the decimal form of the ID.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s (id %s) while %s", e.Op, e.Name, e.ID, e.State)
}

// Unwrap returns ErrInvalidState.
func (e *StateError) Unwrap() error { return ErrInvalidState }

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	return (&module.UnresolvedDependencyError{Target: e.Name, Missing: e.Missing}).Error()
}

// Unwrap returns ErrUnresolved.
func (e *UnresolvedError) Unwrap() error { return ErrUnresolved }

// FindByName returns the installed module with the given name. When several
// versions are installed the greatest wins.
func FindByName(mods []Module, name module.SymbolicName) (Module, bool) {
	var (
		best  Module
		found bool
	)
	for _, m := range mods {
		if m.Name != name {
			continue
		}
		if !found || m.Version.Compare(best.Version) > 0 {
			best, found = m, true
		}
	}
	return best, found
}
