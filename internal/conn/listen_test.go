package conn

import (
	"context"
	"net"
	"testing"
)

func TestListenTCPAddressInUse(t *testing.T) {
	ctx := context.Background()

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if _, ok := ln.(*KeepAliveListener); !ok {
		t.Fatalf("expected *KeepAliveListener, got %T", ln)
	}

	if _, err := ListenTCP(ctx, "tcp", ln.Addr().String(), net.KeepAliveConfig{}); err == nil {
		t.Fatal("expected second listen on the same address to fail")
	}
}

func TestListenTCPInvalidAddress(t *testing.T) {
	if _, err := ListenTCP(context.Background(), "tcp", "127.0.0.1:notaport", net.KeepAliveConfig{}); err == nil {
		t.Fatal("expected error")
	}
}
