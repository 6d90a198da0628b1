package interfaces

// Connection is one live client session as seen by the presence engine.
// Implementations must serialise writes; WriteJSON is called concurrently
// from room delivery loops and the session's own handlers.
type Connection interface {
	// ID returns the server-assigned session identifier.
	ID() string

	// WriteJSON queues v for delivery to the client.
	WriteJSON(v interface{}) error

	// Close terminates the underlying transport. It must be idempotent.
	Close() error
}
