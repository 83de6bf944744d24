package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/tunnel"
)

type fakeStream struct {
	net.Conn
	protocol tunnel.Protocol
}

func (s *fakeStream) Protocol() tunnel.Protocol { return s.protocol }

type fakeOutcome struct {
	stream *fakeStream
	host   string
	port   uint16
	err    error
}

// fakeSource replays a fixed list of outcomes and then ends.
type fakeSource struct {
	outcomes []fakeOutcome
	pulls    int
	closed   bool
}

func (f *fakeSource) Next(ctx context.Context) (*fakeStream, string, uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", 0, err
	}
	f.pulls++
	if len(f.outcomes) == 0 {
		return nil, "", 0, io.EOF
	}
	o := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return o.stream, o.host, o.port, o.err
}

func (f *fakeSource) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1080} }

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func pipeStream(t *testing.T, p tunnel.Protocol) (*fakeStream, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return &fakeStream{Conn: a, protocol: p}, b
}

func TestAdapterPreservesOrderAndErrors(t *testing.T) {
	ctx := context.Background()

	s1, _ := pipeStream(t, tunnel.ProtocolSOCKS5)
	s2, _ := pipeStream(t, tunnel.ProtocolSOCKS5)
	s3, _ := pipeStream(t, tunnel.ProtocolHTTPProxy)
	authErr := &conn.HandshakeError{Protocol: "socks5", Err: conn.ErrAuthRequired}
	timeoutErr := &conn.HandshakeError{Protocol: "socks5", Err: conn.ErrTimeout}
	// A client hanging up mid-handshake wraps io.EOF; that is not the end of
	// the sequence.
	hangupErr := &conn.HandshakeError{Protocol: "socks5", Err: fmt.Errorf("negotiation request: %w", io.EOF)}

	src := &fakeSource{outcomes: []fakeOutcome{
		{err: authErr},
		{stream: s1, host: "example.com", port: 80},
		{err: hangupErr},
		{stream: s2, host: "2001:db8::1", port: 0},
		{err: timeoutErr},
		{stream: s3, host: "a.very.long.host.name.example", port: 65535},
	}}
	want := append([]fakeOutcome(nil), src.outcomes...)

	a := New[*fakeStream](src)
	for i, w := range want {
		in, err := a.Next(ctx)
		if w.err != nil {
			require.Same(t, w.err, err, "item %d", i)
			require.Nil(t, in.Reader)
			continue
		}
		require.NoError(t, err, "item %d", i)
		require.Equal(t, tunnel.RemoteAddr{Protocol: w.stream.protocol, Host: w.host, Port: w.port}, in.Remote)
		require.NotNil(t, in.Reader)
		require.NotNil(t, in.Writer)
	}

	for range 3 {
		_, err := a.Next(ctx)
		require.Equal(t, io.EOF, err)
	}
	require.Equal(t, len(want)+1, src.pulls, "source pulled again after it ended")

	require.NoError(t, a.Close())
	require.True(t, src.closed)
}

func TestAdapterCancelledNextConsumesNothing(t *testing.T) {
	s, _ := pipeStream(t, tunnel.ProtocolSOCKS5)
	src := &fakeSource{outcomes: []fakeOutcome{{stream: s, host: "example.com", port: 443}}}
	a := New[*fakeStream](src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)

	in, err := a.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "example.com", in.Remote.Host)
	require.Equal(t, uint16(443), in.Remote.Port)
}

func TestAdapterSplitHalves(t *testing.T) {
	s, peer := pipeStream(t, tunnel.ProtocolSOCKS5)
	a := New[*fakeStream](&fakeSource{outcomes: []fakeOutcome{{stream: s, host: "h", port: 1}}})

	in, err := a.Next(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := io.ReadFull(in.Reader, buf)
		if err == nil && string(buf) != "ping" {
			err = fmt.Errorf("unexpected %q", buf)
		}
		done <- err
	}()

	go func() {
		_, _ = peer.Write([]byte("ping"))
	}()
	go func() {
		_, _ = in.Writer.Write([]byte("pong"))
	}()

	buf := make([]byte, 4)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))
	require.NoError(t, <-done)

	// net.Pipe has no half-close: the stream stays open until the last half
	// is released.
	require.NoError(t, in.Reader.Close())
	go func() {
		_, _ = in.Writer.Write([]byte("more"))
	}()
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)
	require.Equal(t, "more", string(buf))

	require.NoError(t, in.Writer.Close())
	_, err = peer.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestAdapterAll(t *testing.T) {
	s1, _ := pipeStream(t, tunnel.ProtocolSOCKS5)
	s2, _ := pipeStream(t, tunnel.ProtocolSOCKS5)
	failure := errors.New("boom")
	a := New[*fakeStream](&fakeSource{outcomes: []fakeOutcome{
		{stream: s1, host: "one", port: 1},
		{err: failure},
		{stream: s2, host: "two", port: 2},
	}})

	var hosts []string
	var errs []error
	for in, err := range a.All(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		hosts = append(hosts, in.Remote.Host)
		require.NoError(t, in.Close())
	}
	require.Equal(t, []string{"one", "two"}, hosts)
	require.Equal(t, []error{failure}, errs)
}

// failedSource is a source whose listening socket broke.
type failedSource struct {
	fakeSource
	err error
}

func (f *failedSource) Err() error { return f.err }

func TestAdapterErr(t *testing.T) {
	a := New[*fakeStream](&fakeSource{})
	_, err := a.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, a.Err())

	broken := errors.New("accept: too many open files")
	fa := New[*fakeStream](&failedSource{err: broken})
	_, err = fa.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, fa.Err(), broken)
}
