package progress

import "context"

// Subscriber receives events for jobs it is subscribed to. Implementations
// (e.g. an SSE connection) are responsible for draining Send promptly; a
// Send failure (returned error) causes the bus to unsubscribe and close
// them.
type Subscriber interface {
	ID() string
	Send(event Event) error
	Close() error
	Context() context.Context
}
