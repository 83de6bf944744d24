package tunnel

import (
	"context"
	"net"
	"strconv"

	"github.com/die-net/burrow/internal/conn"
)

// Protocol identifies the handshake that produced a connection.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolSOCKS5
	ProtocolHTTPProxy
	ProtocolTProxyTCP
	ProtocolSSH
)

func (p Protocol) String() string {
	switch p {
	case ProtocolSOCKS5:
		return "socks5"
	case ProtocolHTTPProxy:
		return "http"
	case ProtocolTProxyTCP:
		return "tproxy"
	case ProtocolSSH:
		return "ssh"
	default:
		return "unknown"
	}
}

// RemoteAddr is the destination a client requested during its handshake.
type RemoteAddr struct {
	Protocol Protocol
	Host     string
	Port     uint16
}

// String returns the destination as host:port, suitable for dialing.
func (a RemoteAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// Incoming is one adapted client connection.
type Incoming struct {
	Reader *conn.ReadHalf
	Writer *conn.WriteHalf
	Remote RemoteAddr
}

// Close releases both halves.
func (in Incoming) Close() error {
	rerr := in.Reader.Close()
	werr := in.Writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// Listener is a pull-based sequence of adapted connections.
//
// Next blocks until an item is ready. A per-connection failure is returned as
// an error and the sequence continues; io.EOF means the sequence has ended and
// will not produce anything else. Next must not be called concurrently.
//
// A Listener whose sequence can end because the listening socket failed may
// also implement Err() error to report that failure after io.EOF.
type Listener interface {
	Next(ctx context.Context) (Incoming, error)
	Addr() net.Addr
	Close() error
}
