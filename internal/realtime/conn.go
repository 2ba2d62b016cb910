// Package realtime maps authenticated users to their live connection, keeps
// every connected client informed of who is online, and pushes newly stored
// messages to the recipient when they are connected.
//
// The package does not know about sockets: it operates on the Conn capability
// interface, which the WebSocket transport implements.
package realtime

// Conn is the minimal capability a live client connection must offer.
type Conn interface {
	// ID uniquely identifies the underlying transport connection.
	ID() string
	// Send encodes payload as the named event and writes it to the client.
	Send(event string, payload any) error
	// IsOpen reports whether the transport is still usable.
	IsOpen() bool
}

// Audience enumerates every currently connected client, registered or not.
type Audience interface {
	Peers() []Conn
}

// PresenceNotifier receives the full sorted online set after each registry
// mutation.
type PresenceNotifier interface {
	PresenceChanged(online []string)
}

// PresenceFunc adapts a plain function to PresenceNotifier.
type PresenceFunc func(online []string)

// PresenceChanged calls f(online).
func (f PresenceFunc) PresenceChanged(online []string) { f(online) }
