// SPDX-License-Identifier: MPL-2.0

package module

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy. Errors returned by the engine wrap exactly one of the
// kind sentinels below and, when a context deadline expired, also
// ErrDeadlineExceeded.
var (
	ErrSourceUnreachable    = errors.New("source unreachable")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrInstallFailed        = errors.New("install failed")
	ErrStartFailed          = errors.New("start failed")
	ErrStopFailed           = errors.New("stop failed")
	ErrUpdateFailed         = errors.New("update failed")
	ErrUninstallFailed      = errors.New("uninstall failed")
	ErrArtifactFetchFailed  = errors.New("artifact fetch failed")
	ErrArtifactCorrupt      = errors.New("artifact corrupt")
	ErrManifestInvalid      = errors.New("manifest invalid")
	ErrDeadlineExceeded     = errors.New("deadline exceeded")

	// ErrModuleNotFound is returned when no repository or runtime knows a module.
	ErrModuleNotFound = errors.New("module not found")
	// ErrInvalidTransition is returned when a lifecycle guard rejects an operation.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Operation names a lifecycle transition.
type Operation string

const (
	OpInstall   Operation = "install"
	OpStart     Operation = "start"
	OpStop      Operation = "stop"
	OpUpdate    Operation = "update"
	OpUninstall Operation = "uninstall"
)

type (
	// LifecycleError reports a failed lifecycle operation on one module.
	LifecycleError struct {
		Op     Operation
		Module SymbolicName
		Err    error
	}

	// SourceUnreachableError is returned when a catalog cannot be fetched or parsed.
	SourceUnreachableError struct {
		URL string
		Err error
	}

	// UnresolvedDependencyError lists the required modules no repository can provide.
	UnresolvedDependencyError struct {
		Target  SymbolicName
		Missing []Requirement
	}

	// ArtifactFetchError is returned when an artifact cannot be downloaded.
	ArtifactFetchError struct {
		Source string
		Path   string
		Err    error
	}

	// ArtifactCorruptError is returned when the identity of an artifact cannot be read.
	ArtifactCorruptError struct {
		Path string
		Err  error
	}

	// ManifestInvalidError is returned when a provisioning manifest cannot be parsed.
	ManifestInvalidError struct {
		Path string
		Key  string
		Err  error
	}
)

// Sentinel returns the taxonomy sentinel matching the operation.
func (op Operation) Sentinel() error {
	switch op {
	case OpInstall:
		return ErrInstallFailed
	case OpStart:
		return ErrStartFailed
	case OpStop:
		return ErrStopFailed
	case OpUpdate:
		return ErrUpdateFailed
	case OpUninstall:
		return ErrUninstallFailed
	default:
		return nil
	}
}

// NewLifecycleError wraps err as a failure of op on the named module.
func NewLifecycleError(op Operation, name SymbolicName, err error) *LifecycleError {
	return &LifecycleError{Op: op, Module: name, Err: err}
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Module, e.Err)
}

// Unwrap exposes the operation sentinel, the cause and ErrDeadlineExceeded.
func (e *LifecycleError) Unwrap() []error {
	return classify(e.Op.Sentinel(), e.Err)
}

// Error implements the error interface.
func (e *SourceUnreachableError) Error() string {
	return fmt.Sprintf("repository %s unreachable: %v", e.URL, e.Err)
}

// Unwrap exposes ErrSourceUnreachable and the cause.
func (e *SourceUnreachableError) Unwrap() []error {
	return classify(ErrSourceUnreachable, e.Err)
}

// Error implements the error interface.
func (e *UnresolvedDependencyError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, r := range e.Missing {
		names = append(names, r.String())
	}
	return fmt.Sprintf("%s: unsatisfied requirements: %s", e.Target, strings.Join(names, ", "))
}

// Unwrap returns ErrUnresolvedDependency.
func (e *UnresolvedDependencyError) Unwrap() error { return ErrUnresolvedDependency }

// Error implements the error interface.
func (e *ArtifactFetchError) Error() string {
	return fmt.Sprintf("fetch %s into %s: %v", e.Source, e.Path, e.Err)
}

// Unwrap exposes ErrArtifactFetchFailed and the cause.
func (e *ArtifactFetchError) Unwrap() []error {
	return classify(ErrArtifactFetchFailed, e.Err)
}

// Error implements the error interface.
func (e *ArtifactCorruptError) Error() string {
	return fmt.Sprintf("read identity of %s: %v", e.Path, e.Err)
}

// Unwrap exposes ErrArtifactCorrupt and the cause.
func (e *ArtifactCorruptError) Unwrap() []error {
	return classify(ErrArtifactCorrupt, e.Err)
}

// Error implements the error interface.
func (e *ManifestInvalidError) Error() string {
	var b strings.Builder
	b.WriteString("invalid manifest")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key %s)", e.Key)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap exposes ErrManifestInvalid and the cause.
func (e *ManifestInvalidError) Unwrap() []error {
	return classify(ErrManifestInvalid, e.Err)
}

// IsDeadline reports whether err was caused by an expired context deadline.
func IsDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrDeadlineExceeded)
}

func classify(kind, cause error) []error {
	errs := make([]error, 0, 3)
	if kind != nil {
		errs = append(errs, kind)
	}
	if cause != nil {
		errs = append(errs, cause)
		if errors.Is(cause, context.DeadlineExceeded) && !errors.Is(cause, ErrDeadlineExceeded) {
			errs = append(errs, ErrDeadlineExceeded)
		}
	}
	return errs
}
