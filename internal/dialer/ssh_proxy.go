package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/burrow/internal/ssh"
)

// SSHProxyDialer dials outbound TCP connections as "direct-tcpip" channels
// over one shared SSH connection, like ssh -W.
//
// The SSH connection is made on first use and shared by every DialContext
// call. When opening a channel fails for a reason other than the server
// refusing it, the connection is dropped and redialed once.
type SSHProxyDialer struct {
	cfg     Config
	sshAddr string
	client  internalssh.ClientConfig
	direct  Dialer

	mu   sync.Mutex
	conn *ssh.Client
	sf   singleflight.Group
}

// NewSSHProxyDialer constructs a dialer for the SSH server at sshAddr. Keys
// named by cfg.SSHKeyPath are offered before password.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}

	signers, err := internalssh.LoadSigners(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}
	hostKey, err := internalssh.HostKeyCallback(cfg.SSHKnownHostsPath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	client := internalssh.ClientConfig{
		User:            username,
		Password:        password,
		Signers:         signers,
		HostKeyCallback: hostKey,
	}
	if err := client.Validate(); err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	return &SSHProxyDialer{
		cfg:     cfg,
		sshAddr: sshAddr,
		client:  client,
		direct:  NewDirectDialer(cfg),
	}, nil
}

// ProxyAddr returns the SSH server host:port.
func (d *SSHProxyDialer) ProxyAddr() string {
	return d.sshAddr
}

// DialContext opens a channel to address. Cancelling ctx before the channel
// is open abandons it; once returned, the channel is independent of ctx.
func (d *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh proxy dial %s %s: unsupported network", network, address)
	}

	client, err := d.sshClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dial %s %s: %w", network, address, err)
	}

	c, err := client.DialContext(ctx, "tcp", address)
	if err != nil && ctx.Err() == nil {
		var refused *ssh.OpenChannelError
		if !errors.As(err, &refused) {
			d.drop(client)
			if client, err = d.sshClient(ctx); err == nil {
				c, err = client.DialContext(ctx, "tcp", address)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dial %s %s: %w", network, address, err)
	}
	return c, nil
}

// sshClient returns the shared connection, dialing it if needed. Concurrent
// callers share one attempt, which is not tied to any caller's ctx.
func (d *SSHProxyDialer) sshClient(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	client := d.conn
	d.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := d.sf.DoChan("connect", func() (any, error) {
		d.mu.Lock()
		client := d.conn
		d.mu.Unlock()
		if client != nil {
			return client, nil
		}

		client, err := d.connect(context.Background())
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.conn = client
		d.mu.Unlock()
		return client, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *SSHProxyDialer) connect(ctx context.Context) (*ssh.Client, error) {
	c, err := d.direct.DialContext(ctx, "tcp", d.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy: %w", err)
	}

	var client *ssh.Client
	_, err = negotiate(ctx, c, d.cfg.NegotiationTimeout, func(c net.Conn) (net.Conn, error) {
		var err error
		client, err = internalssh.Handshake(c, d.sshAddr, d.client)
		return c, err
	})
	if err != nil {
		return nil, err
	}

	// Forget the connection once it dies so the next dial makes a new one.
	go func() {
		_ = client.Wait()
		d.drop(client)
	}()
	return client, nil
}

// drop forgets client if it is still the shared connection, and closes it.
func (d *SSHProxyDialer) drop(client *ssh.Client) {
	d.mu.Lock()
	if d.conn == client {
		d.conn = nil
	}
	d.mu.Unlock()
	_ = client.Close()
}

// Close closes the shared SSH connection, if any.
func (d *SSHProxyDialer) Close() error {
	d.mu.Lock()
	client := d.conn
	d.conn = nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
