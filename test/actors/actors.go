package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/docusign"
	"signflow/envelope"
	"signflow/timeline"
)

// ScriptedBackend stands in for the signing backend's status endpoint. Each
// envelope gets a scripted status progression; every CheckDocument call
// advances it one step and the final status repeats forever.
type ScriptedBackend struct {
	mu    sync.Mutex
	seq   int64
	steps map[string][]string
	pos   map[string]int
}

func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{
		steps: make(map[string][]string),
		pos:   make(map[string]int),
	}
}

// Create registers an envelope that walks the given progression and returns
// its id.
func (b *ScriptedBackend) Create(progression []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("env-stress-%d", b.seq)
	b.steps[id] = progression
	return id
}

func (b *ScriptedBackend) CheckDocument(ctx context.Context, envelopeID string) (docusign.EnvelopeStatus, error) {
	if err := ctx.Err(); err != nil {
		return docusign.EnvelopeStatus{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	steps, ok := b.steps[envelopeID]
	if !ok || len(steps) == 0 {
		return docusign.EnvelopeStatus{}, fmt.Errorf("unknown envelope %s", envelopeID)
	}
	i := b.pos[envelopeID]
	status := steps[min(i, len(steps)-1)]
	b.pos[envelopeID] = i + 1
	return docusign.EnvelopeStatus{EnvelopeID: envelopeID, Status: status}, nil
}

var terminalScripts = [][]string{
	{"sent", "delivered", "completed"},
	{"sent", "completed"},
	{"sent", "delivered", "declined"},
	{"sent", "voided"},
	{"sent", "delivered", "delivered", "completed"},
}

// SessionRunner creates fresh envelopes on the backend and runs a poll
// session for each to its terminal outcome.
func SessionRunner(ctx context.Context, poller *envelope.Poller, store *envelope.Store, backend *ScriptedBackend, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		script := terminalScripts[rand.Intn(len(terminalScripts))]
		id := backend.Create(script)
		store.Add(envelope.Record{
			EnvelopeID: id,
			ClaimID:    fmt.Sprintf("claim-%s", id),
			Status:     envelope.StatusSent,
			CreatedAt:  time.Now(),
		})

		s, err := poller.Start(ctx, id)
		if err != nil {
			return fmt.Errorf("session runner start %s: %w", id, err)
		}
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Journal collects terminal record requests as sessions resolve so the
// replayer can re-issue them.
type Journal struct {
	mu   sync.Mutex
	reqs []timeline.RecordTerminalRequest
}

func (j *Journal) Append(req timeline.RecordTerminalRequest) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reqs = append(j.reqs, req)
}

func (j *Journal) Random() (timeline.RecordTerminalRequest, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.reqs) == 0 {
		return timeline.RecordTerminalRequest{}, false
	}
	return j.reqs[rand.Intn(len(j.reqs))], true
}

// Replayer re-issues already-recorded terminal requests to contend on the
// idempotency guard. A replay that lands is a silent no-op; one that hits a
// killed connection is retried on a later pick, so the journal doubles as a
// recovery queue for first attempts the chaos actor interrupted.
func Replayer(ctx context.Context, svc *timeline.Service, journal *Journal, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if req, ok := journal.Random(); ok {
			_ = svc.RecordTerminal(ctx, req)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED, randomly
// failing some attempts to exercise the attempts counter.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1 WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// StoreChurn hammers the in-memory store with reads and benign writes so the
// race detector sees the poller's writes interleave with list traffic.
func StoreChurn(ctx context.Context, store *envelope.Store, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		for _, rec := range store.List() {
			_, _ = store.Get(rec.EnvelopeID)
		}
		_ = store.Len()
		time.Sleep(time.Duration(5+rand.Intn(10)) * time.Millisecond)
	}
}
