package dialer

import (
	"net"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the handshake with an upstream proxy.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// SSHKeyPath is a private key file, "agent", or empty for password only.
	SSHKeyPath string

	// SSHKnownHostsPath enables host key checking with trust on first use.
	// Empty disables checking.
	SSHKnownHostsPath string

	// Logger reports ssh host keys learned on first use. Nil discards.
	Logger *zap.Logger
}
