// Package httpproxy implements the server side of the HTTP CONNECT handshake
// as a burrow protocol listener.
//
// Only CONNECT is supported; the listener answers "200 Connection
// Established" and yields the client connection with the requested host and
// port. Optional Basic Proxy-Authorization is checked before the answer.
package httpproxy
