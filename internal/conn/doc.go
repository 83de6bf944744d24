// Package conn holds the connection plumbing shared by burrow's protocol
// listeners.
//
// It provides keepalive-aware TCP listeners, a generic HandshakeListener that
// turns an accept loop plus a per-connection handshake into a lazily pulled
// sequence of negotiated connections, the handshake error taxonomy, and Split,
// which hands one connection out as independently owned read and write halves.
package conn
