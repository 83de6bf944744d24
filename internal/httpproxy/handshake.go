package httpproxy

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/die-net/burrow/internal/conn"
)

// Handshake failures, matched with errors.Is against items returned by
// Listener.Next.
var (
	ErrMalformed        = conn.ErrMalformed
	ErrAuthRequired     = conn.ErrAuthRequired
	ErrAuthFailed       = conn.ErrAuthFailed
	ErrMethodNotAllowed = conn.ErrMethodNotAllowed
)

const defaultPort = 443

// Auth configures optional Basic proxy authentication. The zero value means
// no authentication.
type Auth struct {
	Username string
	Password string
}

// Enabled reports whether authentication is configured.
func (a Auth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// ServerHandshake reads one CONNECT request from c, checks credentials and
// answers it. Any bytes the client sent after the request head are kept and
// returned first by the resulting Conn.
func ServerHandshake(c net.Conn, auth Auth) (*Conn, string, uint16, error) {
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, "", 0, readError("read request", err)
	}
	_ = req.Body.Close()

	if req.Method != http.MethodConnect {
		_ = writeResponse(c, http.StatusMethodNotAllowed, nil)
		return nil, "", 0, fmt.Errorf("method %s: %w", req.Method, ErrMethodNotAllowed)
	}

	if auth.Enabled() {
		if err := checkProxyAuth(req.Header.Get("Proxy-Authorization"), auth); err != nil {
			_ = writeResponse(c, http.StatusProxyAuthRequired, http.Header{
				"Proxy-Authenticate": {`Basic realm="burrow"`},
			})
			return nil, "", 0, err
		}
	}

	host, port, err := splitTarget(req.Host)
	if err != nil {
		_ = writeResponse(c, http.StatusBadRequest, nil)
		return nil, "", 0, err
	}

	if _, err := io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return nil, "", 0, fmt.Errorf("connect reply: %w", err)
	}

	return newConn(c, br), host, port, nil
}

// readError keeps I/O errors as they are and marks parse failures as
// malformed.
func readError(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
}

func checkProxyAuth(header string, auth Auth) error {
	if header == "" {
		return ErrAuthRequired
	}
	user, pass, err := parseBasicAuth(header)
	if err != nil {
		return err
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(auth.Username))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(auth.Password))
	if userOK&passOK != 1 {
		return fmt.Errorf("user %q: %w", user, ErrAuthFailed)
	}
	return nil
}

// splitTarget parses a CONNECT authority, defaulting the port to 443 when
// none is given.
func splitTarget(target string) (string, uint16, error) {
	if target == "" {
		return "", 0, fmt.Errorf("empty target: %w", ErrMalformed)
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		var ae *net.AddrError
		if !errors.As(err, &ae) || ae.Err != "missing port in address" {
			return "", 0, fmt.Errorf("target %q: %w: %w", target, ErrMalformed, err)
		}
		host, portStr = target, strconv.Itoa(defaultPort)
		if strings.HasPrefix(host, "[") {
			if !strings.HasSuffix(host, "]") {
				return "", 0, fmt.Errorf("target %q: unterminated bracket: %w", target, ErrMalformed)
			}
			host = host[1 : len(host)-1]
		} else if strings.Contains(host, ":") {
			return "", 0, fmt.Errorf("target %q: unbracketed IPv6 address: %w", target, ErrMalformed)
		}
	}
	if host == "" {
		return "", 0, fmt.Errorf("target %q: missing host: %w", target, ErrMalformed)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("target %q: %w: %w", target, ErrMalformed, err)
	}
	if port == 0 {
		return "", 0, fmt.Errorf("target %q: port 0: %w", target, ErrMalformed)
	}
	return host, uint16(port), nil
}

// writeResponse writes a minimal response on a connection that is about to be
// closed.
func writeResponse(w io.Writer, code int, header http.Header) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	for k, vs := range header {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("Content-Length: 0\r\nConnection: close\r\n\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}
