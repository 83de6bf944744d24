// Package ssh carries burrow's SSH support.
//
// On the inbound side, Listener accepts SSH clients and turns every
// "direct-tcpip" channel they open (what ssh -D and ssh -L send) into one
// negotiated connection, the same way the SOCKS5 and HTTP listeners do for
// their handshakes. On the outbound side, Handshake and the key helpers are
// used by the ssh:// upstream dialer.
package ssh
