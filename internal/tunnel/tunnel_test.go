package tunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoteAddrString(t *testing.T) {
	tests := []struct {
		addr RemoteAddr
		want string
	}{
		{addr: RemoteAddr{Protocol: ProtocolSOCKS5, Host: "example.com", Port: 80}, want: "example.com:80"},
		{addr: RemoteAddr{Protocol: ProtocolHTTPProxy, Host: "::1", Port: 443}, want: "[::1]:443"},
		{addr: RemoteAddr{Host: "10.0.0.1", Port: 65535}, want: "10.0.0.1:65535"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.addr.String())
	}
}

func TestProtocolString(t *testing.T) {
	require.Equal(t, "socks5", ProtocolSOCKS5.String())
	require.Equal(t, "http", ProtocolHTTPProxy.String())
	require.Equal(t, "tproxy", ProtocolTProxyTCP.String())
	require.Equal(t, "ssh", ProtocolSSH.String())
	require.Equal(t, "unknown", Protocol(200).String())
}
