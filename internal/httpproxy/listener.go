package httpproxy

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"time"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/tunnel"
)

// Config configures an HTTP CONNECT Listener.
type Config struct {
	// Timeout bounds reading and answering the CONNECT request. Zero means no
	// limit.
	Timeout time.Duration

	Auth Auth

	KeepAlive net.KeepAliveConfig
}

// Conn is a connection that completed a CONNECT handshake, on either side.
type Conn struct {
	net.Conn
	pending []byte
}

// newConn wraps c so that bytes already buffered in br are read first.
func newConn(c net.Conn, br *bufio.Reader) *Conn {
	hc := &Conn{Conn: c}
	if n := br.Buffered(); n > 0 {
		buf, _ := br.Peek(n)
		hc.pending = bytes.Clone(buf)
	}
	return hc
}

func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// Protocol reports the handshake that produced c.
func (c *Conn) Protocol() tunnel.Protocol {
	return tunnel.ProtocolHTTPProxy
}

func (c *Conn) CloseRead() error {
	return conn.CloseRead(c.Conn)
}

func (c *Conn) CloseWrite() error {
	return conn.CloseWrite(c.Conn)
}

// Listener accepts HTTP CONNECT clients.
type Listener struct {
	*conn.HandshakeListener[*Conn]
}

// Listen binds addr and starts accepting CONNECT clients.
func Listen(ctx context.Context, addr string, cfg Config) (*Listener, error) {
	ln, err := conn.ListenTCP(ctx, "tcp", addr, cfg.KeepAlive)
	if err != nil {
		return nil, err
	}

	auth := cfg.Auth
	hl := conn.NewHandshakeListener("http", ln, cfg.Timeout, func(c net.Conn) (*Conn, string, uint16, error) {
		return ServerHandshake(c, auth)
	})
	return &Listener{HandshakeListener: hl}, nil
}
