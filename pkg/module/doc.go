// SPDX-License-Identifier: MPL-2.0

// Package module defines the data model shared by the repository index, the
// resolver, the lifecycle handles and the provisioning driver: symbolic names,
// versions, requirements, module descriptors and the identity embedded in a
// module artifact.
//
// It also owns the failure taxonomy. Every failure produced by the engine wraps
// one of the sentinel errors declared in errors.go so callers can classify it
// with errors.Is regardless of which component produced it.
package module
