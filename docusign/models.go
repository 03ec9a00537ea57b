package docusign

import (
	"encoding/json"
	"time"
)

// apiEnvelope is the {success, data} wrapper the integration backend puts
// around every JSON response body.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConnectionStatus reports whether the business DocuSign account is linked.
// isConnected=true implies ExpiresAt was in the future when the backend
// answered; the value can go stale between checks.
type ConnectionStatus struct {
	IsConnected bool       `json:"isConnected"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	LastRefresh *time.Time `json:"lastRefresh"`
}

// EnvelopeRecord mirrors one envelope row as the backend lists it.
type EnvelopeRecord struct {
	EnvelopeID     string     `json:"envelope_id"`
	ClaimID        string     `json:"claim_uuid"`
	Status         string     `json:"status"`
	CreatedAt      *time.Time `json:"created_at"`
	SentAt         *time.Time `json:"sent_at"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	SenderName     string     `json:"sender_name"`
	SenderEmail    string     `json:"sender_email"`
}

// SignResult is returned by the sign and import endpoints.
type SignResult struct {
	EnvelopeID string `json:"envelope_id"`
	Status     string `json:"status"`
}

// EnvelopeStatus is the check-document response: the current status plus a
// nested details object with envelope metadata.
type EnvelopeStatus struct {
	EnvelopeID string          `json:"envelope_id"`
	Status     string          `json:"status"`
	Details    EnvelopeDetails `json:"details"`
}

type EnvelopeDetails struct {
	SenderName     string     `json:"sender_name"`
	SenderEmail    string     `json:"sender_email"`
	CreatedAt      *time.Time `json:"created_at"`
	SentAt         *time.Time `json:"sent_at"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// Recipient selects the server-side branch of the sign endpoint.
type Recipient string

const (
	// RecipientInternal routes the envelope to the business's own signer.
	RecipientInternal Recipient = "internal"
	// RecipientCustomer routes the envelope to the claim's customer.
	RecipientCustomer Recipient = "customer"
)

type signRequest struct {
	ClaimUUID string `json:"claim_uuid"`
	Recipient string `json:"recipient"`
}

type callbackRequest struct {
	Code string `json:"code"`
}

type checkDocumentRequest struct {
	EnvelopeID string `json:"envelope_id"`
}

type connectData struct {
	URL string `json:"url"`
}

type csrfData struct {
	Token string `json:"token"`
}
