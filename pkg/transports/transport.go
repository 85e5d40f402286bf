package transports

import "context"

type EventKind string

const (
	EventSessionStart EventKind = "session_start"
	EventUserText     EventKind = "user_text"
	EventSessionEnd   EventKind = "session_end"
)

// Event is an inbound message from a connected user.
type Event struct {
	Kind      EventKind
	SessionID string
	Room      string
	TraceID   string
	Text      string
	Reason    string
}

// Reply is an agent utterance addressed to one session. Final marks the last
// reply of a conversation; the transport closes the connection after it.
type Reply struct {
	SessionID string
	Text      string
	Final     bool
}

// Transport defines a vendor-agnostic text I/O boundary.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan Event
	Send(Reply) error
}

// ReadyReporter allows transports to expose readiness metadata (e.g., listen URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
