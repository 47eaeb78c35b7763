// SPDX-License-Identifier: MPL-2.0

package module

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrInvalidConstraint is returned when a requirement's version range cannot be parsed.
	ErrInvalidConstraint = errors.New("invalid version constraint")
)

type (
	// Version is a comparable module version. The zero value represents an
	// unknown version and sorts below every parsed version.
	Version struct {
		v *semver.Version
	}

	// InvalidVersionError is returned when a version string cannot be parsed.
	InvalidVersionError struct {
		Value string
		Err   error
	}
)

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// ParseVersion parses a semantic version. Partial versions such as "1.2" and a
// leading "v" are accepted. An empty string yields the zero Version.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, nil
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, &InvalidVersionError{Value: s, Err: err}
	}
	return Version{v: v}, nil
}

// MustParseVersion is like ParseVersion but panics on error. Intended for tests
// and package-level literals.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether the version is unknown.
func (v Version) IsZero() bool { return v.v == nil }

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to
// or after o.
func (v Version) Compare(o Version) int {
	switch {
	case v.v == nil && o.v == nil:
		return 0
	case v.v == nil:
		return -1
	case o.v == nil:
		return 1
	}
	return v.v.Compare(o.v)
}

// Equal reports whether both versions denote the same release.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// String returns the normalized version, or "0.0.0" for the zero Version.
func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	if v.v == nil {
		return []byte{}, nil
	}
	return []byte(v.v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so catalog and identity
// documents can decode versions directly.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Matches reports whether v satisfies the constraint expression (e.g.
// ">=1.2, <2"). An empty constraint matches every version.
func (v Version) Matches(constraint string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%w %q: %w", ErrInvalidConstraint, constraint, err)
	}
	if v.v == nil {
		return false, nil
	}
	return c.Check(v.v), nil
}
