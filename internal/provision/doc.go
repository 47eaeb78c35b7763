// SPDX-License-Identifier: MPL-2.0

// Package provision converges a workspace toward a declared manifest of
// modules.
//
// A manifest is a properties file listing artifact sources and optional
// placements:
//
//	bundle.1 = https://repo.example.org/core-5.1.0.pkg
//	bundle.2 = https://repo.example.org/download?a=view.pkg&rev=7
//	location.2 = plugins
//
// The Driver downloads every artifact that is not already cached, then
// installs and starts each one in the host runtime unless a module with the
// same identity is already active:
//
//	driver := provision.NewDriver(layout, runtime, provision.DefaultConfig())
//	report, err := driver.RunFile(ctx, "archetype.properties", false)
//
// One unreachable source or broken artifact never aborts the pass; only an
// invalid manifest or a workspace that cannot be created does.
package provision
