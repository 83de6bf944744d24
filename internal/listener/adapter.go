package listener

import (
	"context"
	"io"
	"iter"
	"net"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/tunnel"
)

// Stream is a negotiated client connection that knows which handshake
// produced it.
type Stream interface {
	net.Conn
	Protocol() tunnel.Protocol
}

// Source is what a protocol listener has to offer to be adapted.
//
// Next blocks until a handshake outcome is available and returns the
// connection with the destination host and port, a per-connection error, or
// io.EOF once the listening socket is gone.
type Source[S Stream] interface {
	Next(ctx context.Context) (S, string, uint16, error)
	Addr() net.Addr
	Close() error
}

// Adapter presents a Source as a tunnel.Listener. Like its source it has a
// single consumer: Next must not be called concurrently.
type Adapter[S Stream] struct {
	src   Source[S]
	ended bool
}

// New wraps src.
func New[S Stream](src Source[S]) *Adapter[S] {
	return &Adapter[S]{src: src}
}

// Next returns the next adapted connection.
//
// Errors from the source are returned as they are and the sequence goes on.
// When the source ends, Next returns io.EOF and the source is not consulted
// again. If ctx is done first, Next returns ctx.Err() and nothing is consumed.
func (a *Adapter[S]) Next(ctx context.Context) (tunnel.Incoming, error) {
	if a.ended {
		return tunnel.Incoming{}, io.EOF
	}

	c, host, port, err := a.src.Next(ctx)
	if err == io.EOF {
		a.ended = true
		return tunnel.Incoming{}, io.EOF
	}
	if err != nil {
		return tunnel.Incoming{}, err
	}

	remote := tunnel.RemoteAddr{Protocol: c.Protocol(), Host: host, Port: port}
	r, w := conn.Split(c)
	return tunnel.Incoming{Reader: r, Writer: w, Remote: remote}, nil
}

// All returns an iterator over Next. It stops after io.EOF, after yielding a
// context error, or when the loop body breaks.
func (a *Adapter[S]) All(ctx context.Context) iter.Seq2[tunnel.Incoming, error] {
	return func(yield func(tunnel.Incoming, error) bool) {
		for {
			in, err := a.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(in, err) || ctx.Err() != nil {
				return
			}
		}
	}
}

// Addr returns the address the source is listening on.
func (a *Adapter[S]) Addr() net.Addr {
	return a.src.Addr()
}

// Err reports the error that ended the source, for sources that track one.
// It is nil while the source is running and after a plain Close.
func (a *Adapter[S]) Err() error {
	if e, ok := a.src.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

// Close closes the source's listening socket. Connections already returned by
// Next are left alone.
func (a *Adapter[S]) Close() error {
	return a.src.Close()
}
