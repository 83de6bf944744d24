//go:build linux

package tproxy

import (
	"encoding/binary"
	"net"

	"golang.org/x/sys/unix"
)

// soOriginalDst is SO_ORIGINAL_DST from linux/netfilter_ipv4.h; the IPv6
// variant (IP6T_SO_ORIGINAL_DST) uses the same number at SOL_IPV6.
const soOriginalDst = 80

func setTransparent(network string, fd int) error {
	if network == "tcp6" {
		return unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
	}
	return unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1)
}

// OriginalDst returns the destination a redirected client was trying to
// reach. Connections NATed by REDIRECT report it through SO_ORIGINAL_DST;
// TPROXY leaves it as the local address.
func OriginalDst(c net.Conn) (*net.TCPAddr, bool) {
	local, ok := localDst(c)
	if !ok {
		return nil, false
	}

	rc, err := c.(*net.TCPConn).SyscallConn()
	if err != nil {
		return local, true
	}

	var addr *net.TCPAddr
	_ = rc.Control(func(fd uintptr) {
		if local.IP.To4() != nil {
			addr = originalDst4(int(fd))
		} else {
			addr = originalDst6(int(fd))
		}
	})
	if addr != nil {
		return addr, true
	}
	return local, true
}

func originalDst4(fd int) *net.TCPAddr {
	// struct sockaddr_in fits in the 16 bytes of an ipv6_mreq.
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.SOL_IP, soOriginalDst)
	if err != nil {
		return nil
	}
	raw := mreq.Multiaddr
	if binary.NativeEndian.Uint16(raw[0:2]) != unix.AF_INET {
		return nil
	}
	return &net.TCPAddr{
		IP:   net.IPv4(raw[4], raw[5], raw[6], raw[7]),
		Port: int(binary.BigEndian.Uint16(raw[2:4])),
	}
}

func originalDst6(fd int) *net.TCPAddr {
	// struct sockaddr_in6 is the first member of an ip6_mtuinfo.
	info, err := unix.GetsockoptIPv6MTUInfo(fd, unix.SOL_IPV6, soOriginalDst)
	if err != nil {
		return nil
	}
	sa := info.Addr
	if sa.Family != unix.AF_INET6 {
		return nil
	}
	// Port is stored in network byte order.
	var port [2]byte
	binary.NativeEndian.PutUint16(port[:], sa.Port)
	return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: int(binary.BigEndian.Uint16(port[:]))}
}
