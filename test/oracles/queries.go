package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run periodically during stress. Each
// query selects violating rows, so an empty result means the invariant held.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_terminal_event_per_session",
			SQL: `SELECT payload->>'session_id', COUNT(*) FROM envelope_events
                  WHERE type = 'ENVELOPE_TERMINAL'
                  GROUP BY payload->>'session_id' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_event_key_event_parity",
			SQL: `SELECT 'mismatch' AS detail,
                         (SELECT COUNT(*) FROM idempotency) AS keys,
                         (SELECT COUNT(*) FROM envelope_events WHERE type='ENVELOPE_TERMINAL') AS events
                  WHERE (SELECT COUNT(*) FROM idempotency)
                     <> (SELECT COUNT(*) FROM envelope_events WHERE type='ENVELOPE_TERMINAL')`,
		},
		{
			Name: "O3_event_outbox_pairing",
			SQL: `SELECT 'mismatch' AS detail,
                         (SELECT COUNT(*) FROM envelope_events WHERE type='ENVELOPE_TERMINAL') AS events,
                         (SELECT COUNT(*) FROM outbox WHERE topic IN ('envelope.completed','envelope.failed')) AS messages
                  WHERE (SELECT COUNT(*) FROM envelope_events WHERE type='ENVELOPE_TERMINAL')
                     <> (SELECT COUNT(*) FROM outbox WHERE topic IN ('envelope.completed','envelope.failed'))`,
		},
		{
			Name: "O4_outbox_status_domain",
			SQL:  `SELECT id, topic, status FROM outbox WHERE status NOT IN ('pending','processed','dead')`,
		},
		{
			Name: "O5_outbox_topic_consistency",
			SQL: `SELECT id, topic, payload->>'status' FROM outbox
                  WHERE (topic = 'envelope.completed' AND payload->>'status' <> 'completed')
                     OR (topic = 'envelope.failed' AND payload->>'status' NOT IN ('declined','voided'))`,
		},
		{
			Name: "O6_outbox_not_stale",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name when every invariant held.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
