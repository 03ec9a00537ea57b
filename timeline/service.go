package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RecordTerminalRequest captures a terminal poll-session result normalized
// for the service.
type RecordTerminalRequest struct {
	EventKey   string
	EnvelopeID string
	ClaimID    string
	SessionID  string
	Status     string
	Outcome    string
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TerminalRepository defines the data access required by the service.
type TerminalRepository interface {
	InsertEventKey(ctx context.Context, tx pgx.Tx, key string) error
	ExecuteTerminalTx(ctx context.Context, tx pgx.Tx, params ExecuteTerminalParams) error
}

// Service durably records terminal envelope states: one lifecycle event
// plus one outbox message per event key, all inside a single transaction.
type Service struct {
	pool TxBeginner
	repo TerminalRepository
}

func NewService(pool TxBeginner, repo TerminalRepository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool: pool,
		repo: repo,
	}
}

// RecordTerminal applies the full terminal-record transaction. A duplicate
// event key is a silent success, so callers can replay safely.
func (s *Service) RecordTerminal(ctx context.Context, req RecordTerminalRequest) error {
	if req.EventKey == "" {
		return fmt.Errorf("timeline: missing event key")
	}
	if req.EnvelopeID == "" {
		return fmt.Errorf("timeline: missing envelope id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("timeline: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertEventKey(ctx, tx, req.EventKey); err != nil {
		if errors.Is(err, ErrDuplicateEventKey) {
			return nil
		}
		return err
	}

	payload := map[string]any{
		"claim_uuid": req.ClaimID,
		"session_id": req.SessionID,
		"status":     req.Status,
		"outcome":    req.Outcome,
	}

	topic := TopicEnvelopeCompleted
	if req.Outcome != "completed" {
		topic = TopicEnvelopeFailed
	}

	params := ExecuteTerminalParams{
		EnvelopeID:   req.EnvelopeID,
		EventPayload: payload,
		OutboxTopic:  topic,
		OutboxPayload: map[string]any{
			"claim_uuid": req.ClaimID,
			"status":     req.Status,
		},
	}

	if err := s.repo.ExecuteTerminalTx(ctx, tx, params); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("timeline: commit tx: %w", err)
	}

	return nil
}
