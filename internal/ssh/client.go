package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/die-net/burrow/internal/conn"
)

// ClientConfig holds what an upstream SSH connection authenticates with.
type ClientConfig struct {
	User string

	// Password and Signers are both offered when set, keys first.
	Password string
	Signers  []ssh.Signer

	HostKeyCallback ssh.HostKeyCallback
}

// Validate reports a config that could never authenticate.
func (cfg ClientConfig) Validate() error {
	if cfg.User == "" {
		return errors.New("missing username")
	}
	if cfg.Password == "" && len(cfg.Signers) == 0 {
		return errors.New("missing password or key")
	}
	return nil
}

func (cfg ClientConfig) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(cfg.Signers) > 0 {
		methods = append(methods, ssh.PublicKeys(cfg.Signers...))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	return methods
}

// Handshake runs the client side of the SSH handshake on c, which is
// connected to addr. The caller owns deadlines on c. Rejected credentials
// are reported as conn.ErrAuthFailed.
func Handshake(c net.Conn, addr string, cfg ClientConfig) (*ssh.Client, error) {
	hostKey := cfg.HostKeyCallback
	if hostKey == nil {
		return nil, errors.New("ssh handshake: missing host key callback")
	}

	cc, chans, reqs, err := ssh.NewClientConn(c, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            cfg.authMethods(),
		HostKeyCallback: hostKey,
	})
	if err != nil {
		// x/crypto does not type this failure.
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("ssh handshake with %s as %q: %w", addr, cfg.User, conn.ErrAuthFailed)
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(cc, chans, reqs), nil
}
