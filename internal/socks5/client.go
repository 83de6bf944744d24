package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ClientDial asks the SOCKS5 server on c to CONNECT to address. Failures use
// the same sentinels as the server side: ErrNoAcceptableMethod,
// ErrAuthRequired, ErrAuthFailed and ErrMalformed, or a *ReplyError when the
// server refuses the request.
func ClientDial(c net.Conn, auth Auth, address string) error {
	if err := clientNegotiate(c, auth); err != nil {
		return err
	}
	return clientConnect(c, address)
}

func offeredMethods(auth Auth) []byte {
	if auth.Enabled() {
		return []byte{txsocks5.MethodNone, txsocks5.MethodUsernamePassword}
	}
	return []byte{txsocks5.MethodNone}
}

func clientNegotiate(c net.Conn, auth Auth) error {
	if _, err := txsocks5.NewNegotiationRequest(offeredMethods(auth)).WriteTo(c); err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}
	sel, err := txsocks5.NewNegotiationReplyFrom(c)
	if err != nil {
		return protocolError("method selection", err)
	}

	switch sel.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if !auth.Enabled() {
			return fmt.Errorf("server selected username/password: %w", ErrAuthRequired)
		}
		return clientAuthenticate(c, auth)
	case methodNoAcceptable:
		return ErrNoAcceptableMethod
	default:
		return fmt.Errorf("server selected unoffered method %#x: %w", sel.Method, ErrMalformed)
	}
}

func clientAuthenticate(c net.Conn, auth Auth) error {
	req := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password))
	if _, err := req.WriteTo(c); err != nil {
		return fmt.Errorf("userpass request: %w", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(c)
	if err != nil {
		return protocolError("userpass reply", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return fmt.Errorf("user %q: %w", auth.Username, ErrAuthFailed)
	}
	return nil
}

func clientConnect(c net.Conn, address string) error {
	atyp, host, port, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("target %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		// NewRequest adds the length prefix back.
		host = host[1:]
	}

	if _, err := txsocks5.NewRequest(CmdConnect, atyp, host, port).WriteTo(c); err != nil {
		return fmt.Errorf("connect request: %w", err)
	}
	rep, err := txsocks5.NewReplyFrom(c)
	if err != nil {
		return protocolError("connect reply", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Code: rep.Rep}
	}
	return nil
}
