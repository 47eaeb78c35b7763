// SPDX-License-Identifier: MPL-2.0

// Package lifecycle drives single modules through their lifecycle:
//
//	Uninstalled -> Installed -> Started -> Stopped -> Uninstalled
//
// A Handle wraps one module's descriptor and its runtime ID. Every operation
// takes a per-name lock, re-reads the runtime state and checks its guard
// before acting, so a readiness predicate that went stale cannot cause a
// wrong transition. Failures are returned as *module.LifecycleError and
// leave the handle in its last good state; nothing is retried.
//
// Manager keeps one Handle per symbolic name and offers coordinate based
// ("group:artifact") operations on top of a Resolver.
package lifecycle
