// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by the package tests: filesystem
// helpers that fail the test on error, module artifact builders and an HTTP
// server that serves catalogs and artifacts while counting requests.
package testutil
