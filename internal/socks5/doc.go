// Package socks5 implements the SOCKS5 handshake for burrow, both sides.
//
// The server side (Listen, ServerHandshake) accepts clients, negotiates
// no-auth or username/password authentication, reads the CONNECT request and
// answers it, and yields the negotiated connection together with the requested
// host and port. The client side (ClientDial) is used to reach SOCKS5
// upstreams.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5; it
// does not relay any bytes itself.
package socks5
