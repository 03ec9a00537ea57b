package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"signflow/docusign"
)

var (
	// ErrMalformedAuthURL signals the backend returned an unusable provider
	// authorization URL. This is an invariant violation, not a soft error.
	ErrMalformedAuthURL = errors.New("connection: malformed authorization url")
	// ErrCodeRequired signals an empty OAuth authorization code.
	ErrCodeRequired = errors.New("connection: authorization code required")
)

// StatusAPI is the slice of the backend client the manager consumes.
type StatusAPI interface {
	Status(ctx context.Context) (docusign.ConnectionStatus, error)
	Connect(ctx context.Context) (string, error)
	ExchangeCallback(ctx context.Context, code string) error
	RefreshToken(ctx context.Context) error
}

// Manager answers "is the signing account usable right now" and mediates
// the connect/refresh handshake. It keeps the last-known ConnectionStatus;
// a failed check leaves the prior value stale rather than clearing it, so
// callers can still render the last-known state.
type Manager struct {
	api StatusAPI

	mu      sync.Mutex
	status  docusign.ConnectionStatus
	checked bool
	lastErr error
	// seenCodes guards the at-most-once exchange per authorization code.
	seenCodes map[string]struct{}
}

func NewManager(api StatusAPI) *Manager {
	return &Manager{
		api:       api,
		seenCodes: make(map[string]struct{}),
	}
}

// CheckStatus queries the remote status endpoint. On failure the previous
// status is kept and the error recorded; there is no automatic retry.
func (m *Manager) CheckStatus(ctx context.Context) (docusign.ConnectionStatus, error) {
	status, err := m.api.Status(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = err
		return m.status, fmt.Errorf("connection: check status: %w", err)
	}
	m.status = status
	m.checked = true
	m.lastErr = nil
	return status, nil
}

// InitiateConnect requests a provider authorization URL for the OAuth
// handshake. A missing or unparsable URL fails with ErrMalformedAuthURL.
func (m *Manager) InitiateConnect(ctx context.Context) (string, error) {
	raw, err := m.api.Connect(ctx)
	if err != nil {
		return "", fmt.Errorf("connection: initiate connect: %w", err)
	}

	u, parseErr := url.Parse(raw)
	if raw == "" || parseErr != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedAuthURL, raw)
	}
	return raw, nil
}

// CompleteCallback exchanges a one-time authorization code and re-checks
// the connection. A code that was already exchanged is not sent again; the
// current last-known status is returned instead.
func (m *Manager) CompleteCallback(ctx context.Context, code string) (docusign.ConnectionStatus, error) {
	if code == "" {
		return docusign.ConnectionStatus{}, ErrCodeRequired
	}

	m.mu.Lock()
	if _, seen := m.seenCodes[code]; seen {
		status := m.status
		m.mu.Unlock()
		return status, nil
	}
	m.seenCodes[code] = struct{}{}
	m.mu.Unlock()

	if err := m.api.ExchangeCallback(ctx, code); err != nil {
		// The exchange never happened; allow a clean retry with this code.
		m.mu.Lock()
		delete(m.seenCodes, code)
		m.mu.Unlock()
		return docusign.ConnectionStatus{}, fmt.Errorf("connection: complete callback: %w", err)
	}

	return m.CheckStatus(ctx)
}

// Refresh asks the backend to refresh the provider credential and then
// re-runs the status check.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.api.RefreshToken(ctx); err != nil {
		return fmt.Errorf("connection: refresh: %w", err)
	}
	_, err := m.CheckStatus(ctx)
	return err
}

// Connected reports the last-known connection state.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checked && m.status.IsConnected
}

// LastKnown returns the last-known status and the error, if any, from the
// most recent check.
func (m *Manager) LastKnown() (docusign.ConnectionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.lastErr
}
