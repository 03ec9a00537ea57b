package timeline

import "time"

// EnvelopeEvent mirrors the envelope_events table columns touched by the
// service.
type EnvelopeEvent struct {
	ID         int64
	EnvelopeID string
	Type       string
	CreatedAt  time.Time
	Payload    []byte
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

const (
	// EventTypeTerminal is appended when a poll session resolves
	// completed or failed.
	EventTypeTerminal = "ENVELOPE_TERMINAL"

	// TopicEnvelopeCompleted is published when an envelope completes.
	TopicEnvelopeCompleted = "envelope.completed"
	// TopicEnvelopeFailed is published when an envelope is declined or voided.
	TopicEnvelopeFailed = "envelope.failed"
)

// ExecuteTerminalParams enumerates the writes executed inside a single
// transaction.
type ExecuteTerminalParams struct {
	EnvelopeID    string
	EventPayload  map[string]any
	OutboxTopic   string
	OutboxPayload map[string]any
}
