package httpproxy

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// StatusError is a non-2xx answer to a CONNECT request.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "http connect: " + e.Status
}

// BasicAuth returns the Proxy-Authorization value for auth, or "" when auth
// is disabled.
func BasicAuth(auth Auth) string {
	if !auth.Enabled() {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(auth.Username+":"+auth.Password))
}

func parseBasicAuth(header string) (string, string, error) {
	scheme, encoded, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", "", fmt.Errorf("unsupported scheme %q: %w", scheme, ErrAuthFailed)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", fmt.Errorf("decode credentials: %w", ErrAuthFailed)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", fmt.Errorf("decode credentials: %w", ErrAuthFailed)
	}
	return user, pass, nil
}

// ClientConnect asks the proxy on c to CONNECT to target. A 407 answer maps
// to ErrAuthRequired or ErrAuthFailed depending on whether credentials were
// sent, a 405 to ErrMethodNotAllowed, and anything else non-2xx to a
// *StatusError. Bytes the proxy sent after its response head are returned
// first by the resulting Conn.
func ClientConnect(c net.Conn, target string, auth Auth) (*Conn, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if v := BasicAuth(auth); v != "" {
		req.Header.Set("Proxy-Authorization", v)
	}
	if err := req.Write(c); err != nil {
		return nil, fmt.Errorf("connect request: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, readError("read response", err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
	case resp.StatusCode == http.StatusProxyAuthRequired && auth.Enabled():
		return nil, fmt.Errorf("user %q: %w", auth.Username, ErrAuthFailed)
	case resp.StatusCode == http.StatusProxyAuthRequired:
		return nil, fmt.Errorf("%s: %w", resp.Status, ErrAuthRequired)
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return nil, fmt.Errorf("%s: %w", resp.Status, ErrMethodNotAllowed)
	default:
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return newConn(c, br), nil
}
