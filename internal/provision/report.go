// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/module"
)

// Outcome is what happened to one manifest entry in one phase.
type Outcome string

const (
	// Fetch phase.
	OutcomeCached     Outcome = "cached"
	OutcomeDownloaded Outcome = "downloaded"

	// Install phase.
	OutcomeInstalled Outcome = "installed"
	OutcomeStarted   Outcome = "started"
	OutcomeSkipped   Outcome = "skipped"

	// Either phase.
	OutcomeFailed Outcome = "failed"
)

type (
	// EntryResult records how one entry was provisioned.
	EntryResult struct {
		Entry Entry
		// Path is the local artifact path.
		Path string
		// Fetch is cached, downloaded or failed.
		Fetch Outcome
		// Install is installed (and started), started, skipped or failed. It
		// is empty when the fetch failed.
		Install Outcome
		// Module is the identity read from the artifact.
		Module module.Descriptor
		// ID is the runtime ID, host.Unassigned when not installed.
		ID  host.ID
		Err error
	}

	// Report is the outcome of one provisioning pass, in manifest order.
	Report struct {
		Entries []EntryResult
	}
)

// Downloaded returns the number of artifacts fetched by the pass.
func (r *Report) Downloaded() int { return r.count(func(e EntryResult) bool { return e.Fetch == OutcomeDownloaded }) }

// Cached returns the number of artifacts already present.
func (r *Report) Cached() int { return r.count(func(e EntryResult) bool { return e.Fetch == OutcomeCached }) }

// Installed returns the number of modules installed by the pass.
func (r *Report) Installed() int {
	return r.count(func(e EntryResult) bool { return e.Install == OutcomeInstalled })
}

// Started returns the number of already installed modules the pass started.
func (r *Report) Started() int { return r.count(func(e EntryResult) bool { return e.Install == OutcomeStarted }) }

// Skipped returns the number of modules that were already active.
func (r *Report) Skipped() int { return r.count(func(e EntryResult) bool { return e.Install == OutcomeSkipped }) }

// Failed returns the entries that failed in either phase.
func (r *Report) Failed() []EntryResult {
	var out []EntryResult
	for _, e := range r.Entries {
		if e.Fetch == OutcomeFailed || e.Install == OutcomeFailed {
			out = append(out, e)
		}
	}
	return out
}

func (r *Report) count(match func(EntryResult) bool) int {
	n := 0
	for _, e := range r.Entries {
		if match(e) {
			n++
		}
	}
	return n
}
