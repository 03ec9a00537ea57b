package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateEventKey signals the idempotency insert hit an existing key.
	ErrDuplicateEventKey = errors.New("timeline: duplicate event key")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertEventKey attempts to reserve the idempotency key inside the active
// transaction.
func (r *Repository) InsertEventKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("timeline: empty event key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEventKey
		}
		return fmt.Errorf("timeline: insert event key: %w", err)
	}

	return nil
}

// ExecuteTerminalTx appends the lifecycle event and enqueues the outbox
// message for a terminal envelope state.
func (r *Repository) ExecuteTerminalTx(ctx context.Context, tx pgx.Tx, params ExecuteTerminalParams) error {
	if params.EnvelopeID == "" {
		return fmt.Errorf("timeline: missing envelope id")
	}

	if err := r.appendEvent(ctx, tx, params); err != nil {
		return err
	}
	if err := r.enqueueOutbox(ctx, tx, params); err != nil {
		return err
	}
	return nil
}

func (r *Repository) appendEvent(ctx context.Context, tx pgx.Tx, params ExecuteTerminalParams) error {
	payload := params.EventPayload
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["envelope_id"] = params.EnvelopeID

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal event payload: %w", err)
	}

	const insertSQL = `
INSERT INTO envelope_events (envelope_id, type, payload)
VALUES ($1, $2, $3);
`

	if _, err := tx.Exec(ctx, insertSQL, params.EnvelopeID, EventTypeTerminal, payloadBytes); err != nil {
		return fmt.Errorf("timeline: insert envelope event: %w", err)
	}

	return nil
}

func (r *Repository) enqueueOutbox(ctx context.Context, tx pgx.Tx, params ExecuteTerminalParams) error {
	payload := params.OutboxPayload
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["envelope_id"] = params.EnvelopeID

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal outbox payload: %w", err)
	}

	topic := params.OutboxTopic
	if topic == "" {
		topic = TopicEnvelopeCompleted
	}

	const insertSQL = `
INSERT INTO outbox (topic, payload)
VALUES ($1, $2);
`

	if _, err := tx.Exec(ctx, insertSQL, topic, payloadBytes); err != nil {
		return fmt.Errorf("timeline: insert outbox message: %w", err)
	}

	return nil
}
