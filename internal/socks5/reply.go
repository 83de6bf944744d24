package socks5

import (
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// CmdConnect is the only command burrow serves.
const CmdConnect = txsocks5.CmdConnect

// methodNoAcceptable is the RFC 1928 "no acceptable methods" selection.
const methodNoAcceptable byte = 0xff

// Auth holds the username/password pair for RFC 1929. The zero value means
// no authentication.
type Auth struct {
	Username string
	Password string
}

func (a Auth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// ReplyError is a non-success reply to a CONNECT request.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return "socks5 connect: " + replyText(e.Code)
}

// Is lets a "command not supported" reply match ErrCommandNotSupported.
func (e *ReplyError) Is(target error) bool {
	return target == ErrCommandNotSupported && e.Code == txsocks5.RepCommandNotSupported
}

func replyText(code byte) string {
	switch code {
	case txsocks5.RepServerFailure:
		return "general server failure"
	case txsocks5.RepNotAllowed:
		return "connection not allowed by ruleset"
	case txsocks5.RepNetworkUnreachable:
		return "network unreachable"
	case txsocks5.RepHostUnreachable:
		return "host unreachable"
	case txsocks5.RepConnectionRefused:
		return "connection refused"
	case txsocks5.RepTTLExpired:
		return "TTL expired"
	case txsocks5.RepCommandNotSupported:
		return "command not supported"
	case txsocks5.RepAddressNotSupported:
		return "address type not supported"
	default:
		return fmt.Sprintf("reply %#x", code)
	}
}

func writeMethod(w io.Writer, method byte) error {
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(w); err != nil {
		return fmt.Errorf("method selection: %w", err)
	}
	return nil
}

// writeReply answers a request. bound becomes BND.ADDR and BND.PORT; anything
// but a TCP address is sent as the zero address of the request's family.
func writeReply(w io.Writer, rep byte, bound net.Addr, atyp byte) error {
	tcp, ok := bound.(*net.TCPAddr)
	if !ok {
		tcp = &net.TCPAddr{IP: net.IPv4zero}
		if atyp == txsocks5.ATYPIPv6 {
			tcp.IP = net.IPv6zero
		}
	}

	a, addr, port, err := txsocks5.ParseAddress(tcp.String())
	if err != nil {
		return fmt.Errorf("reply address %s: %w", tcp, err)
	}
	if _, err := txsocks5.NewReply(rep, a, addr, port).WriteTo(w); err != nil {
		return fmt.Errorf("reply %#x: %w", rep, err)
	}
	return nil
}
