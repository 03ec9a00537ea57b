package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"signflow/connection"
	"signflow/docusign"
	"signflow/envelope"
	"signflow/session"
)

type connectionService interface {
	CheckStatus(ctx context.Context) (docusign.ConnectionStatus, error)
	InitiateConnect(ctx context.Context) (string, error)
	CompleteCallback(ctx context.Context, code string) (docusign.ConnectionStatus, error)
	Refresh(ctx context.Context) error
}

type dispatchService interface {
	ExportWithSignature(ctx context.Context, claimID string) (string, error)
	SendForCustomerSignature(ctx context.Context, claimID string) (string, error)
	ImportDocument(ctx context.Context, claimID, filename string, document io.Reader, size int64) (string, error)
}

type pollService interface {
	Start(ctx context.Context, envelopeID string) (*envelope.Session, error)
}

type envelopeAPI interface {
	ListEnvelopes(ctx context.Context) ([]docusign.EnvelopeRecord, error)
	DeleteEnvelope(ctx context.Context, envelopeUUID string) error
}

// Server is the thin HTTP surface the dashboard frontend talks to. It owns
// no business rules; it adapts requests onto the workflow components and
// maps the error taxonomy onto status codes.
type Server struct {
	connections connectionService
	dispatch    dispatchService
	poller      pollService
	store       *envelope.Store
	envelopes   envelopeAPI
	log         fieldLogger
}

type fieldLogger interface {
	Info(fields map[string]any)
	Error(fields map[string]any)
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/docusign/status", s.handleStatus)
	mux.HandleFunc("/api/docusign/connect", s.handleConnect)
	mux.HandleFunc("/api/docusign/callback", s.handleCallback)
	mux.HandleFunc("/api/docusign/refresh", s.handleRefresh)
	mux.HandleFunc("/api/envelopes", s.handleEnvelopes)
	mux.HandleFunc("/api/envelopes/import", s.handleImport)
	mux.HandleFunc("/api/envelopes/", s.handleEnvelopeDetail)
	return mux
}

type statusResponse struct {
	IsConnected bool   `json:"isConnected"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	LastRefresh string `json:"lastRefresh,omitempty"`
}

type envelopeResponse struct {
	EnvelopeID  string `json:"envelopeId"`
	ClaimID     string `json:"claimId"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt,omitempty"`
	SenderName  string `json:"senderName,omitempty"`
	SenderEmail string `json:"senderEmail,omitempty"`
}

type dispatchRequest struct {
	ClaimID string `json:"claim_uuid"`
	Action  string `json:"action"`
}

type dispatchResponse struct {
	EnvelopeID string `json:"envelope_id"`
	Polling    bool   `json:"polling"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	status, err := s.connections.CheckStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	url, err := s.connections.InitiateConnect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	status, err := s.connections.CompleteCallback(r.Context(), body.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.connections.Refresh(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEnvelopes serves the store on GET and dispatches a signing action
// on POST. A successful dispatch immediately starts a poll session.
func (s *Server) handleEnvelopes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEnvelopes(w, r)
	case http.MethodPost:
		s.dispatchAction(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) listEnvelopes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		records, err := s.envelopes.ListEnvelopes(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		domain := make([]envelope.Record, 0, len(records))
		for _, rec := range records {
			domain = append(domain, envelope.RecordFromAPI(rec))
		}
		s.store.SetAll(domain)
	}

	items := s.store.List()
	out := make([]envelopeResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, toEnvelopeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": len(out)})
}

func (s *Server) dispatchAction(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	var (
		envelopeID string
		err        error
	)
	switch body.Action {
	case "export":
		envelopeID, err = s.dispatch.ExportWithSignature(r.Context(), body.ClaimID)
	case "send":
		envelopeID, err = s.dispatch.SendForCustomerSignature(r.Context(), body.ClaimID)
	default:
		http.Error(w, "action must be export or send", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.startPolling(envelopeID)
	writeJSON(w, http.StatusCreated, dispatchResponse{EnvelopeID: envelopeID, Polling: true})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "malformed multipart body", http.StatusBadRequest)
		return
	}
	claimID := r.FormValue("claim_uuid")
	file, header, err := r.FormFile("document")
	if err != nil {
		http.Error(w, "document file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	envelopeID, err := s.dispatch.ImportDocument(r.Context(), claimID, header.Filename, file, header.Size)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.startPolling(envelopeID)
	writeJSON(w, http.StatusCreated, dispatchResponse{EnvelopeID: envelopeID, Polling: true})
}

func (s *Server) handleEnvelopeDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/envelopes/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "envelope id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, ok := s.store.Get(id)
		if !ok {
			http.Error(w, "envelope not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, toEnvelopeResponse(rec))
	case http.MethodDelete:
		if err := s.envelopes.DeleteEnvelope(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		s.store.Remove(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// startPolling kicks off a session detached from the request context so an
// early client disconnect does not cancel the workflow. A session already
// active for the envelope is left alone.
func (s *Server) startPolling(envelopeID string) {
	if envelopeID == "" {
		return
	}
	if _, err := s.poller.Start(context.Background(), envelopeID); err != nil && !errors.Is(err, envelope.ErrSessionActive) {
		s.log.Error(map[string]any{
			"msg":         "start poll session",
			"envelope_id": envelopeID,
			"error":       err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var remoteErr *docusign.RemoteError
	var statusErr *docusign.UnexpectedStatusError

	switch {
	case errors.Is(err, envelope.ErrClaimRequired),
		errors.Is(err, envelope.ErrInvalidDocument),
		errors.Is(err, connection.ErrCodeRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, envelope.ErrNotConnected),
		errors.Is(err, docusign.ErrUnauthorized),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrNoToken):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &remoteErr), errors.As(err, &statusErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, docusign.ErrTransport):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, connection.ErrMalformedAuthURL):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.log.Error(map[string]any{"msg": "unhandled api error", "error": err.Error()})
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toStatusResponse(status docusign.ConnectionStatus) statusResponse {
	out := statusResponse{IsConnected: status.IsConnected}
	if status.ExpiresAt != nil {
		out.ExpiresAt = status.ExpiresAt.Format(time.RFC3339)
	}
	if status.LastRefresh != nil {
		out.LastRefresh = status.LastRefresh.Format(time.RFC3339)
	}
	return out
}

func toEnvelopeResponse(rec envelope.Record) envelopeResponse {
	out := envelopeResponse{
		EnvelopeID:  rec.EnvelopeID,
		ClaimID:     rec.ClaimID,
		Status:      string(rec.Status),
		SenderName:  rec.SenderName,
		SenderEmail: rec.SenderEmail,
	}
	if !rec.CreatedAt.IsZero() {
		out.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
