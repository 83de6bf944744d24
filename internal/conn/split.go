package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// CloseRead shuts down the reading side of c if c supports it.
func CloseRead(c net.Conn) error {
	if cr, ok := c.(closeReader); ok {
		return cr.CloseRead()
	}
	return nil
}

// CloseWrite shuts down the writing side of c if c supports it, which sends
// EOF to the peer while leaving the reading side open.
func CloseWrite(c net.Conn) error {
	if cw, ok := c.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// shared is one connection owned by two halves. The connection is closed when
// the last half is released.
type shared struct {
	conn net.Conn
	refs atomic.Int32
}

func (s *shared) release() error {
	if s.refs.Add(-1) == 0 {
		return s.conn.Close()
	}
	return nil
}

// ReadHalf is the reading direction of a split connection.
type ReadHalf struct {
	s    *shared
	once sync.Once
}

// WriteHalf is the writing direction of a split connection.
type WriteHalf struct {
	s    *shared
	once sync.Once
}

// Split hands c out as a ReadHalf and a WriteHalf. The halves may be used from
// different goroutines at the same time; closing one shuts down only its own
// direction. c itself is closed once both halves are closed, and must not be
// used directly afterwards.
func Split(c net.Conn) (*ReadHalf, *WriteHalf) {
	s := &shared{conn: c}
	s.refs.Store(2)
	return &ReadHalf{s: s}, &WriteHalf{s: s}
}

func (r *ReadHalf) Read(p []byte) (int, error) {
	return r.s.conn.Read(p)
}

// SetReadDeadline sets the read deadline of the underlying connection.
func (r *ReadHalf) SetReadDeadline(t time.Time) error {
	return r.s.conn.SetReadDeadline(t)
}

func (r *ReadHalf) LocalAddr() net.Addr  { return r.s.conn.LocalAddr() }
func (r *ReadHalf) RemoteAddr() net.Addr { return r.s.conn.RemoteAddr() }

// Close shuts down reading and releases this half. It is safe to call more
// than once.
func (r *ReadHalf) Close() error {
	var err error
	r.once.Do(func() {
		_ = CloseRead(r.s.conn)
		err = r.s.release()
	})
	return err
}

func (w *WriteHalf) Write(p []byte) (int, error) {
	return w.s.conn.Write(p)
}

// SetWriteDeadline sets the write deadline of the underlying connection.
func (w *WriteHalf) SetWriteDeadline(t time.Time) error {
	return w.s.conn.SetWriteDeadline(t)
}

func (w *WriteHalf) LocalAddr() net.Addr  { return w.s.conn.LocalAddr() }
func (w *WriteHalf) RemoteAddr() net.Addr { return w.s.conn.RemoteAddr() }

// Close half-closes the connection toward the peer and releases this half.
// It is safe to call more than once.
func (w *WriteHalf) Close() error {
	var err error
	w.once.Do(func() {
		_ = CloseWrite(w.s.conn)
		err = w.s.release()
	})
	return err
}

// Abort closes the whole connection immediately, unblocking any pending
// operation on either half. Both halves still need to be closed.
func (w *WriteHalf) Abort() error {
	return w.s.conn.Close()
}

// Abort closes the whole connection immediately, unblocking any pending
// operation on either half. Both halves still need to be closed.
func (r *ReadHalf) Abort() error {
	return r.s.conn.Close()
}
