package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Handshake negotiates one freshly accepted connection. On success it returns
// the connection to hand out (usually c wrapped with protocol state) and the
// destination the client asked for.
type Handshake[C net.Conn] func(c net.Conn) (C, string, uint16, error)

type handshakeResult[C net.Conn] struct {
	conn C
	host string
	port uint16
	err  error
}

// HandshakeListener accepts connections from a net.Listener, runs a Handshake
// on each one in its own goroutine, and exposes the outcomes through Next.
//
// Outcomes are handed over unbuffered: a negotiated connection waits in its
// handshake goroutine until a caller pulls it, so nothing is lost if a pull is
// abandoned. Only one goroutine may call Next at a time.
type HandshakeListener[C net.Conn] struct {
	protocol  string
	ln        net.Listener
	timeout   time.Duration
	handshake Handshake[C]

	results chan handshakeResult[C]
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending map[net.Conn]struct{}
	err     error
}

// NewHandshakeListener starts accepting on ln. protocol names the handshake in
// errors. If timeout is positive, a handshake that takes longer fails with
// ErrTimeout.
func NewHandshakeListener[C net.Conn](protocol string, ln net.Listener, timeout time.Duration, handshake Handshake[C]) *HandshakeListener[C] {
	l := &HandshakeListener[C]{
		protocol:  protocol,
		ln:        ln,
		timeout:   timeout,
		handshake: handshake,
		results:   make(chan handshakeResult[C]),
		done:      make(chan struct{}),
		pending:   make(map[net.Conn]struct{}),
	}
	go l.acceptLoop()
	return l
}

// Next blocks until a handshake completes, the listener stops, or ctx is done.
//
// A failed handshake is returned as a *HandshakeError and later calls keep
// working. Once the listening socket is closed or fails permanently, Next
// returns io.EOF, and keeps doing so. If ctx is done first, Next returns
// ctx.Err() and no connection is consumed.
func (l *HandshakeListener[C]) Next(ctx context.Context) (C, string, uint16, error) {
	var zero C
	select {
	case r, ok := <-l.results:
		if !ok {
			return zero, "", 0, io.EOF
		}
		return r.conn, r.host, r.port, r.err
	case <-ctx.Done():
		return zero, "", 0, ctx.Err()
	}
}

// Addr returns the listening address.
func (l *HandshakeListener[C]) Addr() net.Addr {
	return l.ln.Addr()
}

// Err returns the error that stopped the accept loop, or nil if it stopped
// because of Close (or has not stopped). The listening socket is already
// closed when Err is non-nil.
func (l *HandshakeListener[C]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops accepting and aborts handshakes still in progress.
// Connections already returned by Next are not affected.
func (l *HandshakeListener[C]) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	for c := range l.pending {
		_ = c.Close()
	}
	l.mu.Unlock()

	// The accept loop closes ln itself after a fatal error.
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (l *HandshakeListener[C]) acceptLoop() {
	defer func() {
		l.wg.Wait()
		close(l.results)
	}()

	var delay time.Duration
	for {
		c, err := l.ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			if isTemporaryAcceptError(err) {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay = min(2*delay, time.Second)
				}
				select {
				case <-time.After(delay):
					continue
				case <-l.done:
					return
				}
			}
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			_ = l.ln.Close()
			return
		}
		delay = 0

		if !l.track(c) {
			_ = c.Close()
			return
		}
		l.wg.Add(1)
		go l.serve(c)
	}
}

func (l *HandshakeListener[C]) serve(c net.Conn) {
	defer l.wg.Done()

	r := l.negotiate(c)
	l.untrack(c)

	if r.err != nil {
		_ = c.Close()
	}

	select {
	case l.results <- r:
	case <-l.done:
		if r.err == nil {
			_ = r.conn.Close()
		}
	}
}

func (l *HandshakeListener[C]) negotiate(c net.Conn) handshakeResult[C] {
	if l.timeout > 0 {
		_ = c.SetDeadline(time.Now().Add(l.timeout))
	}

	hc, host, port, err := l.handshake(c)
	if err != nil {
		if l.timeout > 0 && isTimeout(err) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return handshakeResult[C]{err: &HandshakeError{Protocol: l.protocol, Remote: c.RemoteAddr(), Err: err}}
	}

	if l.timeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}
	return handshakeResult[C]{conn: hc, host: host, port: port}
}

func (l *HandshakeListener[C]) track(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.pending[c] = struct{}{}
	return true
}

func (l *HandshakeListener[C]) untrack(c net.Conn) {
	l.mu.Lock()
	delete(l.pending, c)
	l.mu.Unlock()
}

func (l *HandshakeListener[C]) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
