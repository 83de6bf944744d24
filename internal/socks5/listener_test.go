package socks5

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/burrow/internal/testutil"
	"github.com/die-net/burrow/internal/tunnel"
)

func TestListenerAcceptsAfterFailedHandshake(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	auth := Auth{Username: "user", Password: "pass"}
	l, err := Listen(ctx, "127.0.0.1:0", Config{Timeout: 2 * time.Second, Auth: auth})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// Garbage first.
	bad, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Close()
	if _, err := bad.Write([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := l.Next(ctx); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed handshake, got %v", err)
	}

	good, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer good.Close()
	if err := ClientDial(good, auth, "example.com:443"); err != nil {
		t.Fatal(err)
	}

	c, host, port, err := l.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if host != "example.com" || port != 443 {
		t.Fatalf("unexpected destination %s:%d", host, port)
	}
	if c.Protocol() != tunnel.ProtocolSOCKS5 {
		t.Fatalf("unexpected protocol %v", c.Protocol())
	}

	testutil.AssertEcho(t, good, c, []byte("ping"))
	testutil.AssertEcho(t, c, good, []byte("pong"))

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := l.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after Close, got %v", err)
	}
}

func TestConnCloseWriteHalfCloses(t *testing.T) {
	client, server := testutil.TCPPair(t)
	c := &Conn{Conn: server}

	if err := c.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if _, err := client.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	testutil.AssertEcho(t, client, c, []byte("still readable"))
}
