// SPDX-License-Identifier: MPL-2.0

package module

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSymbolicName is the sentinel error wrapped by InvalidSymbolicNameError.
var ErrInvalidSymbolicName = errors.New("invalid symbolic name")

type (
	// SymbolicName is the globally unique identifier of a module within a
	// repository, e.g. "org.orbisgis.core". Valid names are non-empty and only
	// contain ASCII letters, digits, '.', '_' and '-'.
	SymbolicName string

	// InvalidSymbolicNameError is returned when a SymbolicName fails validation.
	// It wraps ErrInvalidSymbolicName for errors.Is() compatibility.
	InvalidSymbolicNameError struct {
		Value  SymbolicName
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidSymbolicNameError) Error() string {
	return fmt.Sprintf("invalid symbolic name %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidSymbolicName for errors.Is() compatibility.
func (e *InvalidSymbolicNameError) Unwrap() error { return ErrInvalidSymbolicName }

// String returns the string representation of the SymbolicName.
func (n SymbolicName) String() string { return string(n) }

// Validate returns an error if the SymbolicName is empty or contains
// characters outside the allowed set.
func (n SymbolicName) Validate() error {
	if n == "" {
		return &InvalidSymbolicNameError{Value: n, Reason: "must not be empty"}
	}
	for _, r := range string(n) {
		if !isNameRune(r) {
			return &InvalidSymbolicNameError{Value: n, Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	if strings.HasPrefix(string(n), ".") || strings.HasSuffix(string(n), ".") {
		return &InvalidSymbolicNameError{Value: n, Reason: "must not start or end with '.'"}
	}
	return nil
}

// ParseCoordinates converts a "groupId:artifactId" coordinate into the
// symbolic name "groupId.artifactId". A plain symbolic name is returned as is.
func ParseCoordinates(coord string) (SymbolicName, error) {
	coord = strings.TrimSpace(coord)
	group, artifact, found := strings.Cut(coord, ":")
	if found {
		if group == "" || artifact == "" || strings.Contains(artifact, ":") {
			return "", &InvalidSymbolicNameError{Value: SymbolicName(coord), Reason: "expected groupId:artifactId"}
		}
		coord = group + "." + artifact
	}
	name := SymbolicName(coord)
	if err := name.Validate(); err != nil {
		return "", err
	}
	return name, nil
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	default:
		return false
	}
}
