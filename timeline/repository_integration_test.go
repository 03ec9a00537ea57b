package timeline

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestRecordTerminal_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies the end-to-end repository + service behavior
// including idempotency.
func TestRecordTerminal_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"envelope_events", "outbox", "idempotency"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations/ first", table)
		}
	}

	svc := NewService(pool, nil)

	envelopeID := fmt.Sprintf("env-%d", time.Now().UnixNano())
	req := RecordTerminalRequest{
		EventKey:   fmt.Sprintf("session-%d", time.Now().UnixNano()),
		EnvelopeID: envelopeID,
		ClaimID:    "claim-123",
		SessionID:  "session-abc",
		Status:     "completed",
		Outcome:    "completed",
	}

	if err := svc.RecordTerminal(ctx, req); err != nil {
		t.Fatalf("record terminal: %v", err)
	}
	// Replay with the same key must be a silent no-op.
	if err := svc.RecordTerminal(ctx, req); err != nil {
		t.Fatalf("replay record terminal: %v", err)
	}

	var events int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM envelope_events WHERE envelope_id=$1`, envelopeID).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected exactly 1 event, got %d", events)
	}

	var outbox int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic=$1 AND payload->>'envelope_id'=$2`, TopicEnvelopeCompleted, envelopeID).Scan(&outbox); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outbox != 1 {
		t.Fatalf("expected exactly 1 outbox message, got %d", outbox)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
