//go:build unix

package conn

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isTemporaryAcceptError reports whether an Accept failure is worth retrying
// rather than ending the accept sequence.
func isTemporaryAcceptError(err error) bool {
	if isTimeout(err) {
		return true
	}
	return errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENOMEM) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.ECONNRESET)
}
