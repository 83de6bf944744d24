package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/burrow/internal/conn"
)

// Handshake failures, matched with errors.Is against items returned by
// Listener.Next.
var (
	ErrTimeout             = conn.ErrTimeout
	ErrMalformed           = conn.ErrMalformed
	ErrAuthRequired        = conn.ErrAuthRequired
	ErrAuthFailed          = conn.ErrAuthFailed
	ErrNoAcceptableMethod  = conn.ErrNoAcceptableMethod
	ErrCommandNotSupported = conn.ErrCommandNotSupported
)

// protocolError marks errors from the wire decoder as malformed input while
// keeping I/O errors (including deadline expiry) as they are.
func protocolError(op string, err error) error {
	if errors.Is(err, txsocks5.ErrVersion) ||
		errors.Is(err, txsocks5.ErrUserPassVersion) ||
		errors.Is(err, txsocks5.ErrBadRequest) ||
		errors.Is(err, txsocks5.ErrBadReply) {
		return fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
