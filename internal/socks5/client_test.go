package socks5

import (
	"errors"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
)

// upstreamScript plays the server side of a single exchange.
type upstreamScript func(c net.Conn) error

func selectMethod(method byte) upstreamScript {
	return func(c net.Conn) error {
		if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
			return err
		}
		_, err := txsocks5.NewNegotiationReply(method).WriteTo(c)
		return err
	}
}

func rejectUserPass(c net.Conn) error {
	if err := selectMethod(txsocks5.MethodUsernamePassword)(c); err != nil {
		return err
	}
	if _, err := txsocks5.NewUserPassNegotiationRequestFrom(c); err != nil {
		return err
	}
	_, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(c)
	return err
}

func replyWith(rep byte) upstreamScript {
	return func(c net.Conn) error {
		if err := selectMethod(txsocks5.MethodNone)(c); err != nil {
			return err
		}
		if _, err := txsocks5.NewRequestFrom(c); err != nil {
			return err
		}
		_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)
		return err
	}
}

func badVersion(c net.Conn) error {
	if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}
	_, err := c.Write([]byte{0x04, txsocks5.MethodNone})
	return err
}

func TestClientDialErrors(t *testing.T) {
	tests := []struct {
		name    string
		auth    Auth
		script  upstreamScript
		wantErr error
	}{
		{name: "no_acceptable_method", script: selectMethod(methodNoAcceptable), wantErr: ErrNoAcceptableMethod},
		{name: "auth_required", script: selectMethod(txsocks5.MethodUsernamePassword), wantErr: ErrAuthRequired},
		{name: "auth_failed", auth: Auth{Username: "user", Password: "wrong"}, script: rejectUserPass, wantErr: ErrAuthFailed},
		{name: "unoffered_method", script: selectMethod(0x80), wantErr: ErrMalformed},
		{name: "bad_version", script: badVersion, wantErr: ErrMalformed},
		{name: "command_not_supported", script: replyWith(txsocks5.RepCommandNotSupported), wantErr: ErrCommandNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()

			go func() {
				defer serverConn.Close()
				_ = tt.script(serverConn)
			}()

			err := ClientDial(clientConn, tt.auth, "example.com:443")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClientDialReplyError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		defer serverConn.Close()
		_ = replyWith(txsocks5.RepConnectionRefused)(serverConn)
	}()

	err := ClientDial(clientConn, Auth{}, "192.0.2.1:25")
	var rerr *ReplyError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ReplyError, got %v", err)
	}
	if rerr.Code != txsocks5.RepConnectionRefused {
		t.Fatalf("expected code %#x, got %#x", txsocks5.RepConnectionRefused, rerr.Code)
	}
	if errors.Is(err, ErrCommandNotSupported) {
		t.Fatal("connection refused must not match ErrCommandNotSupported")
	}
	if got, want := err.Error(), "socks5 connect: connection refused"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
