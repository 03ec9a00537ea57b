package envelope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/singleflight"

	"signflow/docusign"
)

var (
	// ErrClaimRequired signals a missing claim identifier.
	ErrClaimRequired = errors.New("envelope: claim id required")
	// ErrNotConnected signals the signing account is not usable right now.
	ErrNotConnected = errors.New("envelope: signing account not connected")
	// ErrInvalidDocument signals the import file failed local checks and
	// was never sent to the backend.
	ErrInvalidDocument = errors.New("envelope: invalid document")
)

// DefaultMaxImportSize bounds the import upload.
const DefaultMaxImportSize = 25 << 20

var pdfMagic = []byte("%PDF-")

// ActionAPI is the slice of the backend client the dispatcher consumes.
type ActionAPI interface {
	Sign(ctx context.Context, claimID string, recipient docusign.Recipient) (docusign.SignResult, error)
	Import(ctx context.Context, claimID, filename string, document io.Reader) (docusign.SignResult, error)
}

// ConnectionGate authorizes actions against the signing backend.
type ConnectionGate interface {
	Connected() bool
}

// Dispatcher translates a user-chosen action into exactly one backend
// mutation and records the resulting envelope in the store. Concurrent
// identical actions for the same claim are coalesced so one claim cannot
// spawn duplicate envelopes from a double submit.
type Dispatcher struct {
	api           ActionAPI
	gate          ConnectionGate
	store         *Store
	maxImportSize int64
	group         singleflight.Group
	now           func() time.Time
}

func NewDispatcher(api ActionAPI, gate ConnectionGate, store *Store) *Dispatcher {
	return &Dispatcher{
		api:           api,
		gate:          gate,
		store:         store,
		maxImportSize: DefaultMaxImportSize,
		now:           time.Now,
	}
}

// SetMaxImportSize overrides the import upload bound. Zero or negative
// values are ignored.
func (d *Dispatcher) SetMaxImportSize(n int64) {
	if n > 0 {
		d.maxImportSize = n
	}
}

// ExportWithSignature creates an envelope routed to the internal signer.
func (d *Dispatcher) ExportWithSignature(ctx context.Context, claimID string) (string, error) {
	return d.sign(ctx, "export", claimID, docusign.RecipientInternal)
}

// SendForCustomerSignature creates an envelope routed to the claim's
// customer. Same contract as export; only the destination differs.
func (d *Dispatcher) SendForCustomerSignature(ctx context.Context, claimID string) (string, error) {
	return d.sign(ctx, "send", claimID, docusign.RecipientCustomer)
}

func (d *Dispatcher) sign(ctx context.Context, action, claimID string, recipient docusign.Recipient) (string, error) {
	if claimID == "" {
		return "", ErrClaimRequired
	}
	if !d.gate.Connected() {
		return "", ErrNotConnected
	}

	v, err, _ := d.group.Do(action+":"+claimID, func() (any, error) {
		res, err := d.api.Sign(ctx, claimID, recipient)
		if err != nil {
			return "", fmt.Errorf("envelope: %s for claim %s: %w", action, claimID, err)
		}
		d.record(claimID, res)
		return res.EnvelopeID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ImportDocument uploads an existing file for the claim. The document must
// look like a PDF and fit the size bound; violations surface locally as
// ErrInvalidDocument without touching the backend.
func (d *Dispatcher) ImportDocument(ctx context.Context, claimID, filename string, document io.Reader, size int64) (string, error) {
	if claimID == "" {
		return "", ErrClaimRequired
	}
	if !d.gate.Connected() {
		return "", ErrNotConnected
	}
	if size <= 0 || size > d.maxImportSize {
		return "", fmt.Errorf("%w: size %d outside (0, %d]", ErrInvalidDocument, size, d.maxImportSize)
	}

	data, err := io.ReadAll(io.LimitReader(document, d.maxImportSize+1))
	if err != nil {
		return "", fmt.Errorf("envelope: read document: %w", err)
	}
	if int64(len(data)) > d.maxImportSize {
		return "", fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidDocument, d.maxImportSize)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", fmt.Errorf("%w: not a PDF document", ErrInvalidDocument)
	}

	v, err, _ := d.group.Do("import:"+claimID, func() (any, error) {
		res, err := d.api.Import(ctx, claimID, filename, bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("envelope: import for claim %s: %w", claimID, err)
		}
		d.record(claimID, res)
		return res.EnvelopeID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (d *Dispatcher) record(claimID string, res docusign.SignResult) {
	if res.EnvelopeID == "" {
		return
	}
	d.store.Add(Record{
		EnvelopeID: res.EnvelopeID,
		ClaimID:    claimID,
		Status:     ParseStatus(res.Status),
		CreatedAt:  d.now(),
	})
}
