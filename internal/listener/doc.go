// Package listener adapts protocol-specific listeners to tunnel.Listener.
//
// A protocol listener (SOCKS5, HTTP CONNECT, transparent TCP) yields
// negotiated connections together with the host and port the client asked
// for. Adapter turns each of those into a tunnel.Incoming: the connection
// split into independently owned read and write halves plus a RemoteAddr
// tagged with the connection's protocol. Handshake failures pass through
// unchanged and never end the sequence, so the tunnel can consume any
// listener family the same way.
package listener
