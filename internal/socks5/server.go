package socks5

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// ServerNegotiate reads the client's method selection and, when auth is
// enabled, its username/password. Without auth only the no-authentication
// method is accepted.
func ServerNegotiate(conn net.Conn, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return protocolError("negotiation request", err)
	}

	if auth.Enabled() {
		if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
			_ = writeMethod(conn, methodNoAcceptable)
			return fmt.Errorf("client does not support username/password: %w", ErrAuthRequired)
		}
		if err := writeMethod(conn, txsocks5.MethodUsernamePassword); err != nil {
			return err
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return protocolError("read userpass", err)
		}
		if !credentialsMatch(urq.Uname, urq.Passwd, auth) {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return fmt.Errorf("user %q: %w", urq.Uname, ErrAuthFailed)
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		return nil
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		_ = writeMethod(conn, methodNoAcceptable)
		return fmt.Errorf("client does not support no-auth: %w", ErrNoAcceptableMethod)
	}
	return writeMethod(conn, txsocks5.MethodNone)
}

// ServerReadRequest reads the client's command request.
func ServerReadRequest(conn net.Conn) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, protocolError("request", err)
	}
	return req, nil
}

// ServerHandshake runs the complete server side of a SOCKS5 handshake on conn:
// negotiation, the CONNECT request and the success reply. It returns conn
// wrapped as a *Conn and the destination exactly as the client sent it.
//
// On failure the client has been sent whatever rejection the protocol allows;
// closing conn is left to the caller.
func ServerHandshake(conn net.Conn, auth Auth) (*Conn, string, uint16, error) {
	if err := ServerNegotiate(conn, auth); err != nil {
		return nil, "", 0, err
	}

	req, err := ServerReadRequest(conn)
	if err != nil {
		return nil, "", 0, err
	}
	if req.Cmd != CmdConnect {
		_ = writeReply(conn, txsocks5.RepCommandNotSupported, nil, req.Atyp)
		return nil, "", 0, fmt.Errorf("command %#x: %w", req.Cmd, ErrCommandNotSupported)
	}

	host, _, err := net.SplitHostPort(req.Address())
	if err != nil {
		return nil, "", 0, fmt.Errorf("request address: %w: %w", ErrMalformed, err)
	}
	port := binary.BigEndian.Uint16(req.DstPort)
	if port == 0 {
		_ = writeReply(conn, txsocks5.RepServerFailure, nil, req.Atyp)
		return nil, "", 0, fmt.Errorf("request address %s: port 0: %w", req.Address(), ErrMalformed)
	}

	if err := writeReply(conn, txsocks5.RepSuccess, conn.LocalAddr(), req.Atyp); err != nil {
		return nil, "", 0, err
	}

	return &Conn{Conn: conn}, host, port, nil
}

func credentialsMatch(user, pass []byte, auth Auth) bool {
	userOK := subtle.ConstantTimeCompare(user, []byte(auth.Username))
	passOK := subtle.ConstantTimeCompare(pass, []byte(auth.Password))
	return userOK&passOK == 1
}
