package envelope

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signflow/docusign"
)

var (
	// ErrEnvelopeRequired signals an empty envelope id.
	ErrEnvelopeRequired = errors.New("envelope: envelope id required")
	// ErrSessionActive signals a poll session already exists for the id.
	ErrSessionActive = errors.New("envelope: poll session already active for envelope")
)

// Default poll timing. Both are configurable via Options.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollCeiling  = 120 * time.Second
)

// Outcome is the single terminal result of a poll session. The coarse
// OutcomeFailed covers declined and voided envelopes; the precise status
// value is preserved in the store.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeFailed           Outcome = "failed"
	OutcomeTimedOut         Outcome = "timed_out"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeTransportAborted Outcome = "transport_aborted"
)

// StatusAPI is the slice of the backend client the poller consumes.
type StatusAPI interface {
	CheckDocument(ctx context.Context, envelopeID string) (docusign.EnvelopeStatus, error)
}

// FieldLogger matches the obs logger.
type FieldLogger interface {
	Info(fields map[string]any)
	Error(fields map[string]any)
}

// TerminalEvent describes a session that reached completed or failed.
type TerminalEvent struct {
	SessionID  string
	EnvelopeID string
	ClaimID    string
	Status     Status
	Outcome    Outcome
	ObservedAt time.Time
}

// Options tunes a Poller. Zero values take the defaults.
type Options struct {
	Interval time.Duration
	Ceiling  time.Duration
	// OnTerminal fires once for sessions resolving Completed or Failed,
	// after the store has been updated.
	OnTerminal func(context.Context, TerminalEvent)
}

// Poller runs time-bounded status-check loops, one session per envelope id.
// Every session resolves exactly one Outcome; halting paths that the UI
// historically could not observe (timeout, transport failure) surface as
// distinct outcomes on the same channel.
type Poller struct {
	api        StatusAPI
	store      *Store
	log        FieldLogger
	interval   time.Duration
	ceiling    time.Duration
	onTerminal func(context.Context, TerminalEvent)
	newID      func() string

	mu     sync.Mutex
	active map[string]*Session
}

func NewPoller(api StatusAPI, store *Store, log FieldLogger, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultPollCeiling
	}
	return &Poller{
		api:        api,
		store:      store,
		log:        log,
		interval:   opts.Interval,
		ceiling:    opts.Ceiling,
		onTerminal: opts.OnTerminal,
		newID:      func() string { return uuid.NewString() },
		active:     make(map[string]*Session),
	}
}

// Session is one ephemeral poll loop tied to one envelope id.
type Session struct {
	id         string
	envelopeID string
	startedAt  time.Time
	cancel     context.CancelFunc

	alive   atomic.Bool
	once    sync.Once
	final   Outcome
	outcome chan Outcome
	done    chan struct{}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) EnvelopeID() string { return s.envelopeID }

// Outcome delivers the session's single terminal result. Buffered; reading
// is optional.
func (s *Session) Outcome() <-chan Outcome { return s.outcome }

// Done closes when the session has resolved.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result reports the outcome once resolved.
func (s *Session) Result() (Outcome, bool) {
	select {
	case <-s.done:
		return s.final, true
	default:
		return "", false
	}
}

// Stop cancels the session. The liveness flag drops before the context is
// cancelled so a response already in flight can never reach the store.
func (s *Session) Stop() {
	s.alive.Store(false)
	s.cancel()
}

// Start begins polling the envelope. At most one active session per
// envelope id; a second start fails with ErrSessionActive.
func (p *Poller) Start(ctx context.Context, envelopeID string) (*Session, error) {
	if envelopeID == "" {
		return nil, ErrEnvelopeRequired
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:         p.newID(),
		envelopeID: envelopeID,
		startedAt:  time.Now(),
		cancel:     cancel,
		outcome:    make(chan Outcome, 1),
		done:       make(chan struct{}),
	}
	s.alive.Store(true)

	p.mu.Lock()
	if _, busy := p.active[envelopeID]; busy {
		p.mu.Unlock()
		cancel()
		return nil, ErrSessionActive
	}
	p.active[envelopeID] = s
	p.mu.Unlock()

	go p.run(runCtx, s)
	return s, nil
}

// Active reports whether a session is currently polling the envelope.
func (p *Poller) Active(envelopeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[envelopeID]
	return ok
}

func (p *Poller) run(ctx context.Context, s *Session) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.ceiling)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			p.resolve(ctx, s, StatusUnknown, OutcomeCancelled)
			return

		case <-deadline.C:
			// The last non-terminal status stays in the store untouched.
			p.resolve(ctx, s, StatusUnknown, OutcomeTimedOut)
			return

		case <-ticker.C:
			st, err := p.api.CheckDocument(ctx, s.envelopeID)
			if err != nil {
				if ctx.Err() != nil {
					p.resolve(ctx, s, StatusUnknown, OutcomeCancelled)
					return
				}
				p.log.Error(map[string]any{
					"msg":         "envelope status check failed",
					"session_id":  s.id,
					"envelope_id": s.envelopeID,
					"error":       err.Error(),
				})
				p.resolve(ctx, s, StatusUnknown, OutcomeTransportAborted)
				return
			}

			if !s.alive.Load() {
				// Response landed after Stop; drop it on the floor.
				p.resolve(ctx, s, StatusUnknown, OutcomeCancelled)
				return
			}

			status := ParseStatus(st.Status)
			p.store.UpsertStatus(s.envelopeID, status)

			switch status {
			case StatusCompleted:
				p.resolve(ctx, s, status, OutcomeCompleted)
				return
			case StatusDeclined, StatusVoided:
				p.resolve(ctx, s, status, OutcomeFailed)
				return
			}
		}
	}
}

func (p *Poller) resolve(ctx context.Context, s *Session, status Status, outcome Outcome) {
	s.once.Do(func() {
		s.alive.Store(false)

		p.mu.Lock()
		if p.active[s.envelopeID] == s {
			delete(p.active, s.envelopeID)
		}
		p.mu.Unlock()

		p.log.Info(map[string]any{
			"msg":         "poll session resolved",
			"session_id":  s.id,
			"envelope_id": s.envelopeID,
			"outcome":     string(outcome),
			"elapsed_ms":  time.Since(s.startedAt).Milliseconds(),
		})

		// The hook runs before the outcome is delivered so observers of the
		// session always see the durable record attempt ordered first.
		if p.onTerminal != nil && (outcome == OutcomeCompleted || outcome == OutcomeFailed) {
			claimID := ""
			if rec, ok := p.store.Get(s.envelopeID); ok {
				claimID = rec.ClaimID
			}
			p.onTerminal(ctx, TerminalEvent{
				SessionID:  s.id,
				EnvelopeID: s.envelopeID,
				ClaimID:    claimID,
				Status:     status,
				Outcome:    outcome,
				ObservedAt: time.Now(),
			})
		}

		s.final = outcome
		close(s.done)
		s.outcome <- outcome
	})
}
