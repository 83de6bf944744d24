package tproxy

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/tunnel"
)

var errNoOriginalDst = errors.New("original destination unavailable")

// Config configures a transparent proxy Listener.
type Config struct {
	KeepAlive net.KeepAliveConfig
}

// Conn is a redirected client connection.
type Conn struct {
	net.Conn
}

// Protocol reports how c was obtained.
func (c *Conn) Protocol() tunnel.Protocol {
	return tunnel.ProtocolTProxyTCP
}

func (c *Conn) CloseRead() error {
	return conn.CloseRead(c.Conn)
}

func (c *Conn) CloseWrite() error {
	return conn.CloseWrite(c.Conn)
}

// Listener accepts redirected connections and resolves their original
// destinations.
type Listener struct {
	*conn.HandshakeListener[*Conn]
}

// Listen binds a transparent listening socket on addr. This usually requires
// elevated privileges.
func Listen(ctx context.Context, addr string, cfg Config) (*Listener, error) {
	ln, err := ListenTransparentTCP(ctx, addr, cfg.KeepAlive)
	if err != nil {
		return nil, err
	}
	return &Listener{HandshakeListener: conn.NewHandshakeListener("tproxy", ln, 0, resolve)}, nil
}

func resolve(c net.Conn) (*Conn, string, uint16, error) {
	dst, ok := OriginalDst(c)
	if !ok {
		return nil, "", 0, errNoOriginalDst
	}
	if dst.Port <= 0 || dst.Port > 0xffff {
		return nil, "", 0, fmt.Errorf("original destination %s: invalid port", dst)
	}
	return &Conn{Conn: c}, dst.IP.String(), uint16(dst.Port), nil
}
