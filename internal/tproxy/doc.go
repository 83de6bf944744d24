// Package tproxy implements transparent proxy listeners for Linux, FreeBSD,
// and OpenBSD.
//
// There is no client handshake: the destination of each accepted connection
// is the address the client originally tried to reach before the firewall
// redirected it here.
//
// On Linux, it listens with IP_TRANSPARENT and retrieves the original
// destination of redirected TCP connections via SO_ORIGINAL_DST (getsockopt),
// falling back to the local address for TPROXY-target rules, which preserve
// it. This is designed for use with iptables/nftables REDIRECT or TPROXY
// rules.
//
// On FreeBSD, it listens with IP_BINDANY (protocol-level) and retrieves the
// original destination from the socket's local address (which IPFW fwd and
// PF rdr-to preserve).
//
// On OpenBSD, it listens with SO_BINDANY (socket-level) and retrieves the
// original destination from the socket's local address (which PF rdr-to
// preserves).
//
// On other platforms, Listen and OriginalDst are stubbed out and fail.
package tproxy
