// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"testing"

	"github.com/orbisgis/framework/pkg/module"
)

// Descriptor builds a descriptor for tests. It panics on an invalid version.
func Descriptor(name, version string, requires ...module.Requirement) module.Descriptor {
	return module.Descriptor{
		Name:        module.SymbolicName(name),
		Version:     module.MustParseVersion(version),
		DisplayName: name,
		Requires:    requires,
	}
}

// Requires is shorthand for a mandatory requirement.
func Requires(name, constraint string) module.Requirement {
	return module.Requirement{Name: module.SymbolicName(name), Constraint: constraint}
}

// Artifact returns the bytes of a module artifact carrying d's identity.
func Artifact(t testing.TB, d module.Descriptor) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := module.WriteArtifact(&buf, d, map[string][]byte{"payload.bin": []byte(d.ID())}); err != nil {
		t.Fatalf("failed to build artifact for %s: %v", d.ID(), err)
	}
	return buf.Bytes()
}

// WriteArtifact writes an artifact for d at path.
func WriteArtifact(t testing.TB, path string, d module.Descriptor) {
	t.Helper()
	MustWriteFile(t, path, Artifact(t, d))
}
