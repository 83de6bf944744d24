package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/burrow/internal/httpproxy"
)

// HTTPProxyDialer dials outbound TCP connections through an HTTP or HTTPS
// proxy with the CONNECT method.
type HTTPProxyDialer struct {
	cfg        Config
	proxyAddr  string
	serverName string
	auth       httpproxy.Auth
	direct     Dialer
}

// NewHTTPProxyDialer constructs a CONNECT dialer for proxyURL. An https URL
// wraps the proxy connection in TLS before CONNECT is sent. If username is
// non-empty, Basic proxy authentication is sent.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil {
		return nil, errors.New("http proxy dialer: missing proxy url")
	}
	if proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: invalid proxy host")
	}

	d := &HTTPProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyURL.Host,
		auth:      httpproxy.Auth{Username: username, Password: password},
		direct:    NewDirectDialer(cfg),
	}
	switch strings.ToLower(proxyURL.Scheme) {
	case "http":
	case "https":
		d.serverName = proxyURL.Hostname()
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}
	return d, nil
}

// ProxyAddr returns the proxy host:port.
func (d *HTTPProxyDialer) ProxyAddr() string {
	return d.proxyAddr
}

// DialContext connects to the proxy and asks it to CONNECT to address.
// Refusals come back as httpproxy.ErrAuthRequired, httpproxy.ErrAuthFailed,
// httpproxy.ErrMethodNotAllowed or a *httpproxy.StatusError.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	nc, err := negotiate(ctx, c, d.cfg.NegotiationTimeout, func(c net.Conn) (net.Conn, error) {
		if d.serverName != "" {
			tc := tls.Client(c, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: d.serverName})
			if err := tc.Handshake(); err != nil {
				return nil, fmt.Errorf("tls handshake: %w", err)
			}
			c = tc
		}
		return httpproxy.ClientConnect(c, address, d.auth)
	})
	if err != nil {
		return nil, fmt.Errorf("http proxy dial %s %s: %w", network, address, err)
	}
	return nc, nil
}
