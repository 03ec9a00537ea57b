package envelope

import (
	"strings"
	"time"

	"signflow/docusign"
)

// Status is the remote signing service's envelope status as tracked locally.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusDeclined  Status = "declined"
	StatusVoided    Status = "voided"
	StatusUnknown   Status = "unknown"
)

// Terminal reports whether no further signing-workflow progress is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusVoided:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes a backend status string; unrecognized values map
// to StatusUnknown rather than failing.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusSent:
		return StatusSent
	case StatusDelivered:
		return StatusDelivered
	case StatusCompleted:
		return StatusCompleted
	case StatusDeclined:
		return StatusDeclined
	case StatusVoided:
		return StatusVoided
	default:
		return StatusUnknown
	}
}

// Record is the domain representation of one envelope. It carries no JSON
// annotations so it can be reused by different presentation layers.
type Record struct {
	EnvelopeID     string
	ClaimID        string
	Status         Status
	CreatedAt      time.Time
	SentAt         *time.Time
	LastModifiedAt *time.Time
	ExpiresAt      *time.Time
	SenderName     string
	SenderEmail    string
}

// RecordFromAPI converts a backend wire record into the domain form.
func RecordFromAPI(rec docusign.EnvelopeRecord) Record {
	out := Record{
		EnvelopeID:     rec.EnvelopeID,
		ClaimID:        rec.ClaimID,
		Status:         ParseStatus(rec.Status),
		SentAt:         rec.SentAt,
		LastModifiedAt: rec.LastModifiedAt,
		ExpiresAt:      rec.ExpiresAt,
		SenderName:     rec.SenderName,
		SenderEmail:    rec.SenderEmail,
	}
	if rec.CreatedAt != nil {
		out.CreatedAt = *rec.CreatedAt
	}
	return out
}
