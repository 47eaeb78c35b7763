// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"errors"
	"syscall"
)

// isFatalFsnotifyError reports errors after which the watcher cannot observe
// changes any more: the inotify watch limit (ENOSPC) and descriptor
// exhaustion (EMFILE, ENFILE).
func isFatalFsnotifyError(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
