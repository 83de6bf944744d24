// Package dialer provides the outbound dialers burrow relays through.
//
// Every dialer implements DialContext and reaches the destination either
// directly or via an upstream proxy speaking HTTP CONNECT or SOCKS5, or as
// a forwarded channel over SSH.
package dialer
