package conn

import (
	"errors"
	"fmt"
	"net"
)

// Handshake failure causes. A HandshakeError wraps one of these (or a plain
// I/O error) so callers can match with errors.Is.
var (
	ErrTimeout             = errors.New("handshake timeout")
	ErrMalformed           = errors.New("malformed handshake")
	ErrAuthRequired        = errors.New("authentication required")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrNoAcceptableMethod  = errors.New("no acceptable authentication method")
	ErrCommandNotSupported = errors.New("command not supported")
	ErrMethodNotAllowed    = errors.New("method not allowed")
)

// HandshakeError reports that negotiating one inbound connection failed. It
// never affects the listener that produced it.
type HandshakeError struct {
	Protocol string
	Remote   net.Addr
	Err      error
}

func (e *HandshakeError) Error() string {
	if e.Remote == nil {
		return fmt.Sprintf("%s handshake: %v", e.Protocol, e.Err)
	}
	return fmt.Sprintf("%s handshake with %s: %v", e.Protocol, e.Remote, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
