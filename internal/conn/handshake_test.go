package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/die-net/burrow/internal/testutil"
)

// lineHandshake expects a single "host port\n" line and answers "ok\n".
func lineHandshake(c net.Conn) (net.Conn, string, uint16, error) {
	var line []byte
	b := make([]byte, 1)
	for {
		if _, err := io.ReadFull(c, b); err != nil {
			return nil, "", 0, fmt.Errorf("read line: %w", err)
		}
		if b[0] == '\n' {
			break
		}
		line = append(line, b[0])
	}

	host, portStr, ok := strings.Cut(string(line), " ")
	if !ok {
		return nil, "", 0, ErrMalformed
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if _, err := c.Write([]byte("ok\n")); err != nil {
		return nil, "", 0, err
	}
	return c, host, uint16(port), nil
}

func startLineListener(t *testing.T, timeout time.Duration) *HandshakeListener[net.Conn] {
	t.Helper()

	ln, err := ListenTCP(context.Background(), "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	if err != nil {
		t.Fatal(err)
	}
	l := NewHandshakeListener("line", ln, timeout, lineHandshake)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func dialLine(t *testing.T, addr net.Addr, line string) net.Conn {
	t.Helper()

	c, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if line != "" {
		if _, err := c.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHandshakeListenerErrorsDoNotStopSequence(t *testing.T) {
	ctx := testContext(t)
	l := startLineListener(t, 0)

	tests := []struct {
		name    string
		line    string
		host    string
		port    uint16
		wantErr error
	}{
		{name: "first", line: "example.com 80\n", host: "example.com", port: 80},
		{name: "no_port", line: "example.com\n", wantErr: ErrMalformed},
		{name: "bad_port", line: "example.com 70000\n", wantErr: ErrMalformed},
		{name: "ipv6", line: "::1 443\n", host: "::1", port: 443},
	}

	for _, tt := range tests {
		dialLine(t, l.Addr(), tt.line)

		c, host, port, err := l.Next(ctx)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
			}
			var he *HandshakeError
			if !errors.As(err, &he) || he.Protocol != "line" || he.Remote == nil {
				t.Fatalf("%s: expected *HandshakeError, got %#v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if host != tt.host || port != tt.port {
			t.Fatalf("%s: got %s:%d want %s:%d", tt.name, host, port, tt.host, tt.port)
		}
		_ = c.Close()
	}
}

func TestHandshakeListenerTimeout(t *testing.T) {
	ctx := testContext(t)
	l := startLineListener(t, 100*time.Millisecond)

	dialLine(t, l.Addr(), "")

	start := time.Now()
	_, _, _, err := l.Next(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}

	// A slow client after the timed out one must not inherit its deadline.
	c := dialLine(t, l.Addr(), "")
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Write([]byte("example.com 80\n")); err != nil {
		t.Fatal(err)
	}
	hc, host, _, err := l.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer hc.Close()
	if host != "example.com" {
		t.Fatalf("unexpected host %q", host)
	}

	// The deadline is cleared once the handshake completes.
	time.Sleep(150 * time.Millisecond)
	buf := make([]byte, 3)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, hc, c, []byte("late"))
}

func TestHandshakeListenerCancelledNextLosesNothing(t *testing.T) {
	ctx := testContext(t)
	l := startLineListener(t, 0)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, _, err := l.Next(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, _, _, err := l.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	dialLine(t, l.Addr(), "example.com 80\n")

	// Give the handshake time to finish before nobody is pulling.
	time.Sleep(50 * time.Millisecond)

	c, _, port, err := l.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if port != 80 {
		t.Fatalf("unexpected port %d", port)
	}
}

func TestHandshakeListenerCloseEndsSequence(t *testing.T) {
	ctx := testContext(t)
	l := startLineListener(t, 0)

	client := dialLine(t, l.Addr(), "example.com 80\n")
	c, _, _, err := l.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// A client stuck mid-handshake must not keep the sequence open.
	dialLine(t, l.Addr(), "")
	time.Sleep(20 * time.Millisecond)

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, _, _, err := l.Next(ctx); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	}
	if err := l.Err(); err != nil {
		t.Fatalf("expected no accept error after Close, got %v", err)
	}

	// The connection handed out before Close is still usable.
	buf := make([]byte, 3)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c, client, []byte("still here"))

	if _, err := net.Dial("tcp", l.Addr().String()); err == nil {
		t.Fatal("expected dial to closed listener to fail")
	}
}

var errAcceptBroken = errors.New("accept: broken")

// brokenListener fails every Accept with a non-temporary error.
type brokenListener struct {
	mu     sync.Mutex
	closes int
}

func (b *brokenListener) Accept() (net.Conn, error) { return nil, errAcceptBroken }

func (b *brokenListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }

func (b *brokenListener) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	if b.closes > 1 {
		return net.ErrClosed
	}
	return nil
}

func TestHandshakeListenerFatalAcceptError(t *testing.T) {
	ctx := testContext(t)
	ln := &brokenListener{}
	l := NewHandshakeListener("line", ln, 0, lineHandshake)

	if _, _, _, err := l.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if err := l.Err(); !errors.Is(err, errAcceptBroken) {
		t.Fatalf("expected accept error, got %v", err)
	}

	ln.mu.Lock()
	closes := ln.closes
	ln.mu.Unlock()
	if closes != 1 {
		t.Fatalf("expected listening socket to be closed once, got %d", closes)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close after fatal accept error: %v", err)
	}
}
