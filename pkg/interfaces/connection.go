package interfaces

import "schoolchat/pkg/types"

// Conn is a live bidirectional connection as seen by the registry and
// the router. The concrete implementation wraps a WebSocket; tests use
// in-memory fakes.
type Conn interface {
	// ID returns the connection's unique identity. Two tabs of the same
	// principal under the same scope are distinct connections.
	ID() string

	// Principal returns the authenticated identity that owns this
	// connection. Set before registration, immutable afterwards.
	Principal() types.Principal

	// Scope returns the routing key this connection is registered under.
	Scope() types.Scope

	// IsOpen reports the observed liveness state. A connection that has
	// begun closing is no longer a valid fanout target.
	IsOpen() bool

	// WriteJSON sends one JSON frame. Safe for concurrent use; writes
	// are serialized by a single writer per connection.
	WriteJSON(v interface{}) error

	// CloseWithStatus sends a close frame with the given code and reason
	// so the peer can distinguish "session gone" from a network blip,
	// then tears the connection down.
	CloseWithStatus(code int, reason string) error

	// Close tears the connection down without a distinguishing reason.
	Close() error
}
