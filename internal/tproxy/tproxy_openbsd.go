//go:build openbsd

package tproxy

import (
	"net"

	"golang.org/x/sys/unix"
)

// PF rdr-to needs SO_BINDANY, a socket-level option on OpenBSD. Return
// traffic also needs divert-reply rules.
func setTransparent(_ string, fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BINDANY, 1)
}

// OriginalDst returns the destination a redirected client was trying to reach.
func OriginalDst(c net.Conn) (*net.TCPAddr, bool) {
	return localDst(c)
}
