package listener

import (
	"context"
	"fmt"

	"github.com/die-net/burrow/internal/httpproxy"
	"github.com/die-net/burrow/internal/socks5"
	"github.com/die-net/burrow/internal/ssh"
	"github.com/die-net/burrow/internal/tproxy"
	"github.com/die-net/burrow/internal/tunnel"
)

var (
	_ tunnel.Listener = (*Adapter[*socks5.Conn])(nil)
	_ tunnel.Listener = (*Adapter[*httpproxy.Conn])(nil)
	_ tunnel.Listener = (*Adapter[*tproxy.Conn])(nil)
	_ tunnel.Listener = (*Adapter[*ssh.Conn])(nil)
)

// StartupError reports that a listener could not be started. It unwraps to
// the bind error.
type StartupError struct {
	Protocol tunnel.Protocol
	Addr     string
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("cannot start %s server on %s: %v", serverName(e.Protocol), e.Addr, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

func serverName(p tunnel.Protocol) string {
	switch p {
	case tunnel.ProtocolSOCKS5:
		return "SOCKS5"
	case tunnel.ProtocolHTTPProxy:
		return "HTTP proxy"
	case tunnel.ProtocolTProxyTCP:
		return "transparent proxy"
	case tunnel.ProtocolSSH:
		return "SSH"
	default:
		return p.String()
	}
}

// NewSOCKS5 starts a SOCKS5 listener on bindAddr and adapts it. A zero
// cfg.Auth accepts only clients that need no authentication; cfg.Timeout
// bounds each handshake.
func NewSOCKS5(ctx context.Context, bindAddr string, cfg socks5.Config) (*Adapter[*socks5.Conn], error) {
	l, err := socks5.Listen(ctx, bindAddr, cfg)
	if err != nil {
		return nil, &StartupError{Protocol: tunnel.ProtocolSOCKS5, Addr: bindAddr, Err: err}
	}
	return New[*socks5.Conn](l), nil
}

// NewHTTPProxy starts an HTTP CONNECT listener on bindAddr and adapts it.
func NewHTTPProxy(ctx context.Context, bindAddr string, cfg httpproxy.Config) (*Adapter[*httpproxy.Conn], error) {
	l, err := httpproxy.Listen(ctx, bindAddr, cfg)
	if err != nil {
		return nil, &StartupError{Protocol: tunnel.ProtocolHTTPProxy, Addr: bindAddr, Err: err}
	}
	return New[*httpproxy.Conn](l), nil
}

// NewTProxy starts a transparent proxy listener on bindAddr and adapts it.
func NewTProxy(ctx context.Context, bindAddr string, cfg tproxy.Config) (*Adapter[*tproxy.Conn], error) {
	l, err := tproxy.Listen(ctx, bindAddr, cfg)
	if err != nil {
		return nil, &StartupError{Protocol: tunnel.ProtocolTProxyTCP, Addr: bindAddr, Err: err}
	}
	return New[*tproxy.Conn](l), nil
}

// NewSSH starts an SSH listener on bindAddr and adapts it. Each direct-tcpip
// channel a client opens becomes one connection.
func NewSSH(ctx context.Context, bindAddr string, cfg ssh.Config) (*Adapter[*ssh.Conn], error) {
	l, err := ssh.Listen(ctx, bindAddr, cfg)
	if err != nil {
		return nil, &StartupError{Protocol: tunnel.ProtocolSSH, Addr: bindAddr, Err: err}
	}
	return New[*ssh.Conn](l), nil
}
