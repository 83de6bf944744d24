package ssh

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/die-net/burrow/internal/conn"
	"github.com/die-net/burrow/internal/tunnel"
)

// Handshake failures, matched with errors.Is against items returned by
// Listener.Next.
var (
	ErrTimeout             = conn.ErrTimeout
	ErrMalformed           = conn.ErrMalformed
	ErrAuthFailed          = conn.ErrAuthFailed
	ErrCommandNotSupported = conn.ErrCommandNotSupported
)

const channelDirectTCPIP = "direct-tcpip"

var errNoDeadline = errors.New("ssh channel: deadlines not supported")

// Auth is a single username/password pair.
type Auth struct {
	Username string
	Password string
}

func (a Auth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// Config configures an SSH Listener.
type Config struct {
	// Timeout bounds the SSH handshake of each client. Zero means no limit.
	Timeout time.Duration

	// HostKeys must hold at least one key.
	HostKeys []ssh.Signer

	// Auth and AuthorizedKeys are alternatives; a client passing either is
	// let in. With neither set no authentication is asked for.
	Auth           Auth
	AuthorizedKeys []ssh.PublicKey

	KeepAlive net.KeepAliveConfig
}

func (cfg Config) serverConfig() (*ssh.ServerConfig, error) {
	if len(cfg.HostKeys) == 0 {
		return nil, errors.New("ssh: no host key")
	}

	sc := &ssh.ServerConfig{}
	for _, k := range cfg.HostKeys {
		sc.AddHostKey(k)
	}

	if !cfg.Auth.Enabled() && len(cfg.AuthorizedKeys) == 0 {
		sc.NoClientAuth = true
		return sc, nil
	}
	if cfg.Auth.Enabled() {
		auth := cfg.Auth
		sc.PasswordCallback = func(md ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			userOK := subtle.ConstantTimeCompare([]byte(md.User()), []byte(auth.Username))
			passOK := subtle.ConstantTimeCompare(pass, []byte(auth.Password))
			if userOK&passOK != 1 {
				return nil, fmt.Errorf("password rejected for %q", md.User())
			}
			return nil, nil
		}
	}
	if len(cfg.AuthorizedKeys) > 0 {
		authorized := make([][]byte, len(cfg.AuthorizedKeys))
		for i, k := range cfg.AuthorizedKeys {
			authorized[i] = k.Marshal()
		}
		sc.PublicKeyCallback = func(md ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			wire := key.Marshal()
			for _, a := range authorized {
				if bytes.Equal(a, wire) {
					return &ssh.Permissions{Extensions: map[string]string{"pubkey-fp": ssh.FingerprintSHA256(key)}}, nil
				}
			}
			return nil, fmt.Errorf("key %s not authorized", ssh.FingerprintSHA256(key))
		}
	}
	return sc, nil
}

// Conn is one direct-tcpip channel a client opened.
type Conn struct {
	ssh.Channel

	s    *session
	l    *Listener
	once sync.Once
}

// Protocol reports the handshake that produced c.
func (c *Conn) Protocol() tunnel.Protocol {
	return tunnel.ProtocolSSH
}

func (c *Conn) Close() error {
	err := c.Channel.Close()
	c.once.Do(func() { c.l.release(c.s) })
	return err
}

// CloseRead is a no-op: a channel has no way to refuse further data other
// than closing it.
func (c *Conn) CloseRead() error {
	return nil
}

func (c *Conn) LocalAddr() net.Addr  { return c.s.sc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.s.sc.RemoteAddr() }

func (c *Conn) SetDeadline(time.Time) error      { return errNoDeadline }
func (c *Conn) SetReadDeadline(time.Time) error  { return errNoDeadline }
func (c *Conn) SetWriteDeadline(time.Time) error { return errNoDeadline }

// session is an authenticated SSH transport. It stays open while any of its
// channels is handed out.
type session struct {
	net.Conn
	sc    *ssh.ServerConn
	chans <-chan ssh.NewChannel

	active int // guarded by Listener.mu
}

func (s *session) Close() error {
	return s.sc.Close()
}

type channelResult struct {
	conn *Conn
	host string
	port uint16
	err  error
}

// Listener accepts SSH clients. Next yields one outcome per channel request
// and one per failed SSH handshake.
type Listener struct {
	hl *conn.HandshakeListener[*session]

	results chan channelResult
	done    chan struct{}

	mu       sync.Mutex
	closed   bool
	sessions map[*session]struct{}
}

// Listen binds addr and starts accepting SSH clients.
func Listen(ctx context.Context, addr string, cfg Config) (*Listener, error) {
	sc, err := cfg.serverConfig()
	if err != nil {
		return nil, err
	}
	ln, err := conn.ListenTCP(ctx, "tcp", addr, cfg.KeepAlive)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		results:  make(chan channelResult),
		done:     make(chan struct{}),
		sessions: make(map[*session]struct{}),
	}
	// The transport handshake carries no destination; those come with each
	// channel.
	l.hl = conn.NewHandshakeListener("ssh", ln, cfg.Timeout, func(c net.Conn) (*session, string, uint16, error) {
		s, err := serverHandshake(c, sc)
		return s, "", 0, err
	})
	go l.acceptSessions()
	return l, nil
}

func serverHandshake(c net.Conn, config *ssh.ServerConfig) (*session, error) {
	sc, chans, reqs, err := ssh.NewServerConn(c, config)
	if err != nil {
		var authErr *ssh.ServerAuthError
		var ne net.Error
		switch {
		case errors.As(err, &authErr):
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		case errors.As(err, &ne), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	go ssh.DiscardRequests(reqs)
	return &session{Conn: c, sc: sc, chans: chans}, nil
}

// Next blocks until a channel is opened, a client fails its handshake, the
// listener stops, or ctx is done. After Close or a fatal accept error it
// returns io.EOF, and keeps doing so.
func (l *Listener) Next(ctx context.Context) (*Conn, string, uint16, error) {
	select {
	case <-l.done:
		return nil, "", 0, io.EOF
	default:
	}

	select {
	case r := <-l.results:
		return r.conn, r.host, r.port, r.err
	case <-l.done:
		return nil, "", 0, io.EOF
	case <-ctx.Done():
		return nil, "", 0, ctx.Err()
	}
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.hl.Addr()
}

// Err returns the error that stopped the accept loop, if any.
func (l *Listener) Err() error {
	return l.hl.Err()
}

// Close stops accepting clients and drops SSH sessions that have no channel
// handed out. Channels already returned by Next keep working; their session
// is closed with the last of them.
func (l *Listener) Close() error {
	l.shutdown()
	return l.hl.Close()
}

func (l *Listener) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
	for s := range l.sessions {
		if s.active == 0 {
			_ = s.Close()
		}
	}
}

func (l *Listener) acceptSessions() {
	defer l.shutdown()

	for {
		s, _, _, err := l.hl.Next(context.Background())
		if err == io.EOF {
			return
		}
		if err != nil {
			if !l.deliver(channelResult{err: err}) {
				return
			}
			continue
		}
		if !l.track(s) {
			_ = s.Close()
			continue
		}
		go l.serveSession(s)
	}
}

func (l *Listener) serveSession(s *session) {
	for nc := range s.chans {
		go l.openChannel(s, nc)
	}

	l.mu.Lock()
	delete(l.sessions, s)
	l.mu.Unlock()
}

func (l *Listener) openChannel(s *session, nc ssh.NewChannel) {
	host, port, err := parseDirectTCPIP(nc)
	if err != nil {
		reason := ssh.Prohibited
		if errors.Is(err, ErrCommandNotSupported) {
			reason = ssh.UnknownChannelType
		}
		_ = nc.Reject(reason, err.Error())
		l.deliver(channelResult{err: &conn.HandshakeError{Protocol: "ssh", Remote: s.sc.RemoteAddr(), Err: err}})
		return
	}

	if !l.acquire(s) {
		_ = nc.Reject(ssh.Prohibited, "shutting down")
		return
	}
	ch, reqs, err := nc.Accept()
	if err != nil {
		l.release(s)
		l.deliver(channelResult{err: &conn.HandshakeError{Protocol: "ssh", Remote: s.sc.RemoteAddr(), Err: err}})
		return
	}
	go ssh.DiscardRequests(reqs)

	c := &Conn{Channel: ch, s: s, l: l}
	if !l.deliver(channelResult{conn: c, host: host, port: port}) {
		_ = c.Close()
	}
}

// directTCPIP is the RFC 4254 section 7.2 channel payload.
type directTCPIP struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

func parseDirectTCPIP(nc ssh.NewChannel) (string, uint16, error) {
	if t := nc.ChannelType(); t != channelDirectTCPIP {
		return "", 0, fmt.Errorf("channel type %q: %w", t, ErrCommandNotSupported)
	}
	var p directTCPIP
	if err := ssh.Unmarshal(nc.ExtraData(), &p); err != nil {
		return "", 0, fmt.Errorf("direct-tcpip payload: %w: %w", ErrMalformed, err)
	}
	if p.Host == "" || p.Port == 0 || p.Port > 65535 {
		return "", 0, fmt.Errorf("direct-tcpip target %q port %d: %w", p.Host, p.Port, ErrMalformed)
	}
	return p.Host, uint16(p.Port), nil
}

// deliver hands r to Next, reporting false if the listener stopped first.
func (l *Listener) deliver(r channelResult) bool {
	select {
	case l.results <- r:
		return true
	case <-l.done:
		return false
	}
}

func (l *Listener) track(s *session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.sessions[s] = struct{}{}
	return true
}

func (l *Listener) acquire(s *session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	s.active++
	return true
}

func (l *Listener) release(s *session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.active--
	if l.closed && s.active == 0 {
		_ = s.Close()
	}
}
