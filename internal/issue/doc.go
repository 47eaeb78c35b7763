// SPDX-License-Identifier: MPL-2.0

// Package issue turns failures into user-facing guidance: ActionableError
// carries the failed operation and suggestions, and the issue catalog maps
// each failure kind to a Markdown remediation page rendered with glamour.
package issue
