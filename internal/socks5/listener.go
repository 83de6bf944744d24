package socks5

import (
	"context"
	"net"
	"time"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/tunnel"
)

// Config configures a SOCKS5 Listener.
type Config struct {
	// Timeout bounds each client's handshake. Zero means no limit.
	Timeout time.Duration

	// Auth enables username/password authentication when set.
	Auth Auth

	KeepAlive net.KeepAliveConfig
}

// Conn is a client connection that completed the SOCKS5 handshake.
type Conn struct {
	net.Conn
}

// Protocol reports the handshake that produced c.
func (c *Conn) Protocol() tunnel.Protocol {
	return tunnel.ProtocolSOCKS5
}

func (c *Conn) CloseRead() error {
	return conn.CloseRead(c.Conn)
}

func (c *Conn) CloseWrite() error {
	return conn.CloseWrite(c.Conn)
}

// Listener accepts SOCKS5 clients. Next yields one outcome per accepted
// client, in the order handshakes complete.
type Listener struct {
	*conn.HandshakeListener[*Conn]
}

// Listen binds addr and starts accepting SOCKS5 clients.
func Listen(ctx context.Context, addr string, cfg Config) (*Listener, error) {
	ln, err := conn.ListenTCP(ctx, "tcp", addr, cfg.KeepAlive)
	if err != nil {
		return nil, err
	}

	auth := cfg.Auth
	hl := conn.NewHandshakeListener("socks5", ln, cfg.Timeout, func(c net.Conn) (*Conn, string, uint16, error) {
		return ServerHandshake(c, auth)
	})
	return &Listener{HandshakeListener: hl}, nil
}
