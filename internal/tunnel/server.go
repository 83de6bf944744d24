package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/metrics"
)

// Dialer opens outbound connections on behalf of clients.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Server relays connections pulled from Listeners to destinations reached
// through a Dialer.
type Server struct {
	dialer  Dialer
	logger  *zap.Logger
	metrics *metrics.Metrics
	verbose bool

	// Handshake failures are logged at most this often unless verbose.
	warn *rate.Limiter

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records per-connection counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVerbose logs every per-connection failure instead of a sample.
func WithVerbose(v bool) Option {
	return func(s *Server) { s.verbose = v }
}

// NewServer returns a Server that dials through d.
func NewServer(d Dialer, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		dialer: d,
		logger: logger,
		warn:   rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve pulls connections from l and relays each one in its own goroutine.
// A failed handshake is logged and skipped. Serve returns nil once l reports
// the end of its sequence or ctx is done, unless l reports through Err that
// its listening socket failed; that error is logged and returned. Relays
// started by Serve are aborted when ctx is done; use Wait to wait for them.
func (s *Server) Serve(ctx context.Context, l Listener) error {
	for {
		in, err := l.Next(ctx)
		if err == io.EOF {
			return s.ended(l)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.rejected(err)
			continue
		}

		s.countIncoming(in.Remote.Protocol, "ok")
		s.wg.Go(func() { s.relay(ctx, in) })
	}
}

// Wait blocks until every relay started by Serve has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) ended(l Listener) error {
	fl, ok := l.(interface{ Err() error })
	if !ok {
		return nil
	}
	err := fl.Err()
	if err == nil {
		return nil
	}
	s.logger.Error("listener stopped accepting", zap.Stringer("addr", l.Addr()), zap.Error(err))
	return fmt.Errorf("accept on %s: %w", l.Addr(), err)
}

func (s *Server) rejected(err error) {
	protocol := ProtocolUnknown
	var he *conn.HandshakeError
	if errors.As(err, &he) {
		protocol = protocolFromName(he.Protocol)
	}
	s.countIncoming(protocol, "error")

	if s.verbose || s.warn.Allow() {
		s.logger.Warn("handshake failed", zap.Stringer("protocol", protocol), zap.Error(err))
	}
}

func (s *Server) relay(ctx context.Context, in Incoming) {
	defer in.Close()

	log := s.logger.With(
		zap.Stringer("protocol", in.Remote.Protocol),
		zap.Stringer("client", in.Reader.RemoteAddr()),
		zap.String("dst", in.Remote.String()),
	)

	up, err := s.dialer.DialContext(ctx, "tcp", in.Remote.String())
	if err != nil {
		if s.metrics != nil {
			s.metrics.DialFailures.WithLabelValues(in.Remote.Protocol.String()).Inc()
		}
		if s.verbose {
			log.Info("dial failed", zap.Error(err))
		}
		return
	}
	defer up.Close()

	if s.metrics != nil {
		s.metrics.ActiveRelays.Inc()
		defer s.metrics.ActiveRelays.Dec()
	}

	// A failure in either direction, or shutdown, tears down both sides.
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		_ = in.Reader.Abort()
		_ = up.Close()
	})
	defer stop()

	start := time.Now()
	var sent, received int64
	g.Go(func() error {
		n, err := io.Copy(up, in.Reader)
		sent = n
		_ = conn.CloseWrite(up)
		_ = in.Reader.Close()
		return err
	})
	g.Go(func() error {
		n, err := io.Copy(in.Writer, up)
		received = n
		_ = in.Writer.Close()
		return err
	})
	err = g.Wait()

	if s.metrics != nil {
		s.metrics.RelayedBytes.WithLabelValues("upstream").Add(float64(sent))
		s.metrics.RelayedBytes.WithLabelValues("downstream").Add(float64(received))
	}
	if s.verbose {
		log.Debug("relay finished",
			zap.Int64("sent", sent),
			zap.Int64("received", received),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
}

func (s *Server) countIncoming(p Protocol, result string) {
	if s.metrics != nil {
		s.metrics.Incoming.WithLabelValues(p.String(), result).Inc()
	}
}

func protocolFromName(name string) Protocol {
	switch name {
	case ProtocolSOCKS5.String():
		return ProtocolSOCKS5
	case ProtocolHTTPProxy.String():
		return ProtocolHTTPProxy
	case ProtocolTProxyTCP.String():
		return ProtocolTProxyTCP
	case ProtocolSSH.String():
		return ProtocolSSH
	default:
		return ProtocolUnknown
	}
}
