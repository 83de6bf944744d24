// Package tunnel defines the protocol-agnostic contract between burrow's
// listener adapters and the relay that forwards their connections.
//
// A Listener yields Incoming values: the two halves of a negotiated client
// connection and the RemoteAddr the client asked to reach. Server pulls from
// any Listener, dials each RemoteAddr and relays bytes in both directions.
package tunnel
