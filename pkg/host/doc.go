// SPDX-License-Identifier: MPL-2.0

// Package host defines the contract between the lifecycle engine and the
// runtime that actually loads modules, together with Local, a reference
// runtime that keeps installed artifacts in a storage directory.
//
// Code that must react to a module being started or stopped registers an
// Activator for the module's symbolic name in a Registry and passes that
// registry to the runtime at construction time.
package host
