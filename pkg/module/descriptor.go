// SPDX-License-Identifier: MPL-2.0

package module

import (
	"maps"
	"slices"
	"strings"
)

// Header keys used for the live metadata a host runtime reports for an
// installed module. Descriptor.Headers renders a descriptor with the same keys
// so lookups can fall back to it transparently.
const (
	HeaderSymbolicName = "Module-SymbolicName"
	HeaderVersion      = "Module-Version"
	HeaderName         = "Module-Name"
	HeaderDescription  = "Module-Description"
	HeaderCategory     = "Module-Category"
)

type (
	// Requirement declares a dependency on another module.
	Requirement struct {
		// Name is the symbolic name of the required module.
		Name SymbolicName `toml:"id" yaml:"id"`
		// Constraint is a version range such as ">=1.0, <2". Empty matches any version.
		Constraint string `toml:"version,omitempty" yaml:"version,omitempty"`
		// Optional requirements never block installation.
		Optional bool `toml:"optional,omitempty" yaml:"optional,omitempty"`
	}

	// Descriptor is the metadata of an installable module as published by a
	// repository catalog or embedded in an artifact. Descriptors are values and
	// are rebuilt each time a catalog is scanned.
	Descriptor struct {
		Name        SymbolicName
		Version     Version
		DisplayName string
		Description string
		Categories  []string
		Properties  map[string]string
		// Location is the artifact source, usually an absolute URL.
		Location string
		Requires []Requirement
		// Source is the catalog URL the descriptor was read from, empty for
		// descriptors built from an artifact.
		Source string
	}
)

// String renders the requirement as "name" or "name (constraint)".
func (r Requirement) String() string {
	s := string(r.Name)
	if r.Constraint != "" {
		s += " (" + r.Constraint + ")"
	}
	if r.Optional {
		s += " [optional]"
	}
	return s
}

// SatisfiedBy reports whether a module with the given name and version meets
// the requirement. An unparsable constraint never matches.
func (r Requirement) SatisfiedBy(name SymbolicName, v Version) bool {
	if name != r.Name {
		return false
	}
	ok, err := v.Matches(r.Constraint)
	return err == nil && ok
}

// ID returns "name@version", which is unique across all catalogs.
func (d Descriptor) ID() string {
	return string(d.Name) + "@" + d.Version.String()
}

// Headers renders the descriptor as a header map using the same keys a host
// runtime reports for installed modules. Custom properties are included as
// is, but never override the standard headers.
func (d Descriptor) Headers() map[string]string {
	h := make(map[string]string, len(d.Properties)+5)
	maps.Copy(h, d.Properties)
	h[HeaderSymbolicName] = string(d.Name)
	h[HeaderVersion] = d.Version.String()
	if d.DisplayName != "" {
		h[HeaderName] = d.DisplayName
	}
	if d.Description != "" {
		h[HeaderDescription] = d.Description
	}
	if len(d.Categories) > 0 {
		h[HeaderCategory] = strings.Join(d.Categories, ",")
	}
	return h
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	d.Categories = slices.Clone(d.Categories)
	d.Properties = maps.Clone(d.Properties)
	d.Requires = slices.Clone(d.Requires)
	return d
}

// ParseCategories splits a comma separated category list, trimming blanks.
// It always returns a non-nil slice so "no categories" is an empty sequence.
func ParseCategories(s string) []string {
	out := []string{}
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
