package docusign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenSource supplies the opaque bearer credential attached to every call.
type TokenSource interface {
	Token() (string, error)
}

// csrfPath serves the anti-forgery token required on mutating requests.
const csrfPath = "/sanctum/csrf-token"

// Client is a typed HTTP client for the DocuSign integration backend. All
// persistence and the signing protocol itself live behind that backend;
// this client only shapes requests and classifies failures.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource

	mu   sync.Mutex
	csrf string
}

// New builds a Client for the given backend base URL. A nil http.Client
// gets a 15 second default timeout.
func New(baseURL string, tokens TokenSource, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		tokens:  tokens,
	}
}

// Status queries the connection state of the business DocuSign account.
func (c *Client) Status(ctx context.Context) (ConnectionStatus, error) {
	var out ConnectionStatus
	code, raw, err := c.do(ctx, http.MethodGet, "/docusign/status", nil, false, &out)
	if err != nil {
		return ConnectionStatus{}, err
	}
	if code != http.StatusOK {
		return ConnectionStatus{}, c.statusError(ctx, http.MethodGet, "/docusign/status", code, raw)
	}
	return out, nil
}

// Connect requests a provider authorization URL to start the OAuth handshake.
func (c *Client) Connect(ctx context.Context) (string, error) {
	data, err := c.doEnvelope(ctx, http.MethodPost, "/docusign/connect", nil, "connect")
	if err != nil {
		return "", err
	}
	var out connectData
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("docusign: decode connect response: %w", err)
	}
	return out.URL, nil
}

// ExchangeCallback trades a one-time authorization code for a
// backend-managed credential. The caller owns once-per-code semantics.
func (c *Client) ExchangeCallback(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("docusign: empty authorization code")
	}
	_, err := c.doEnvelope(ctx, http.MethodPost, "/docusign/callback", callbackRequest{Code: code}, "callback")
	return err
}

// RefreshToken asks the backend to refresh the provider credential.
func (c *Client) RefreshToken(ctx context.Context) error {
	_, err := c.doEnvelope(ctx, http.MethodPost, "/docusign/refresh-token", nil, "refresh token")
	return err
}

// ListEnvelopes fetches every envelope record the backend knows about.
func (c *Client) ListEnvelopes(ctx context.Context) ([]EnvelopeRecord, error) {
	data, err := c.doEnvelope(ctx, http.MethodGet, "/docusign", nil, "list envelopes")
	if err != nil {
		return nil, err
	}
	var out []EnvelopeRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("docusign: decode envelope list: %w", err)
	}
	return out, nil
}

// Sign creates an envelope for the claim. The recipient selects the
// server-side branch: internal signer export vs customer signature request.
func (c *Client) Sign(ctx context.Context, claimID string, recipient Recipient) (SignResult, error) {
	if claimID == "" {
		return SignResult{}, fmt.Errorf("docusign: claim id required")
	}
	req := signRequest{ClaimUUID: claimID, Recipient: string(recipient)}
	data, err := c.doEnvelope(ctx, http.MethodPost, "/docusign/sign", req, "sign")
	if err != nil {
		return SignResult{}, err
	}
	var out SignResult
	if err := json.Unmarshal(data, &out); err != nil {
		return SignResult{}, fmt.Errorf("docusign: decode sign response: %w", err)
	}
	return out, nil
}

// Import uploads an existing document for the claim as a multipart request.
// Local format/size validation happens in the dispatcher before this call.
func (c *Client) Import(ctx context.Context, claimID, filename string, document io.Reader) (SignResult, error) {
	if claimID == "" {
		return SignResult{}, fmt.Errorf("docusign: claim id required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("claim_uuid", claimID); err != nil {
		return SignResult{}, fmt.Errorf("docusign: build import form: %w", err)
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return SignResult{}, fmt.Errorf("docusign: build import form: %w", err)
	}
	if _, err := io.Copy(part, document); err != nil {
		return SignResult{}, fmt.Errorf("docusign: read import document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return SignResult{}, fmt.Errorf("docusign: build import form: %w", err)
	}

	code, raw, err := c.doRaw(ctx, http.MethodPost, "/docusign/import", buf.Bytes(), mw.FormDataContentType(), true)
	if err != nil {
		return SignResult{}, err
	}
	data, err := c.unwrap(ctx, http.MethodPost, "/docusign/import", "import", code, raw)
	if err != nil {
		return SignResult{}, err
	}
	var out SignResult
	if err := json.Unmarshal(data, &out); err != nil {
		return SignResult{}, fmt.Errorf("docusign: decode import response: %w", err)
	}
	return out, nil
}

// CheckDocument queries the current status of one envelope.
func (c *Client) CheckDocument(ctx context.Context, envelopeID string) (EnvelopeStatus, error) {
	if envelopeID == "" {
		return EnvelopeStatus{}, fmt.Errorf("docusign: envelope id required")
	}
	var out EnvelopeStatus
	code, raw, err := c.do(ctx, http.MethodPost, "/docusign/check-document", checkDocumentRequest{EnvelopeID: envelopeID}, true, &out)
	if err != nil {
		return EnvelopeStatus{}, err
	}
	if code != http.StatusOK {
		return EnvelopeStatus{}, c.statusError(ctx, http.MethodPost, "/docusign/check-document", code, raw)
	}
	return out, nil
}

// DeleteEnvelope removes the backend's record for the envelope.
func (c *Client) DeleteEnvelope(ctx context.Context, envelopeUUID string) error {
	if envelopeUUID == "" {
		return fmt.Errorf("docusign: envelope uuid required")
	}
	_, err := c.doEnvelope(ctx, http.MethodDelete, "/docusign/delete/"+envelopeUUID, nil, "delete envelope")
	return err
}

// doEnvelope performs a call whose body uses the {success,data} wrapper and
// returns the data payload.
func (c *Client) doEnvelope(ctx context.Context, method, path string, body any, op string) (json.RawMessage, error) {
	mutating := method != http.MethodGet
	code, raw, err := c.do(ctx, method, path, body, mutating, nil)
	if err != nil {
		return nil, err
	}
	return c.unwrap(ctx, method, path, op, code, raw)
}

func (c *Client) unwrap(ctx context.Context, method, path, op string, code int, raw string) (json.RawMessage, error) {
	var env apiEnvelope
	decoded := raw != "" && json.Unmarshal([]byte(raw), &env) == nil

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case code >= 200 && code < 300 && decoded && env.Success:
		return env.Data, nil
	case decoded && !env.Success:
		return nil, &RemoteError{Op: op, Message: env.Message}
	default:
		return nil, c.statusError(ctx, method, path, code, raw)
	}
}

func (c *Client) statusError(ctx context.Context, method, path string, code int, raw string) error {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	}
	return &UnexpectedStatusError{Method: method, Path: path, Code: code, Body: raw}
}

// do sends a JSON request and optionally decodes the response into out.
// Returns the status code and trimmed raw body.
func (c *Client) do(ctx context.Context, method, path string, body any, mutating bool, out any) (int, string, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, "", fmt.Errorf("docusign: marshal request: %w", err)
		}
		payload = b
	}

	code, raw, err := c.doRaw(ctx, method, path, payload, "application/json", mutating)
	if err != nil {
		return 0, "", err
	}
	if out != nil && raw != "" {
		// Tolerate non-JSON error bodies; status handling decides below.
		_ = json.Unmarshal([]byte(raw), out)
	}
	return code, raw, nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, payload []byte, contentType string, mutating bool) (int, string, error) {
	code, raw, err := c.send(ctx, method, path, payload, contentType, mutating)
	if err != nil {
		return 0, "", err
	}
	// A 419 means the cached anti-forgery token aged out; fetch a fresh one
	// and retry the request once.
	if mutating && code == 419 {
		c.mu.Lock()
		c.csrf = ""
		c.mu.Unlock()
		return c.send(ctx, method, path, payload, contentType, mutating)
	}
	return code, raw, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, contentType string, mutating bool) (int, string, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, "", fmt.Errorf("docusign: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	if mutating {
		csrf, err := c.csrfToken(ctx)
		if err != nil {
			return 0, "", err
		}
		req.Header.Set("X-CSRF-Token", csrf)
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer rsp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	return rsp.StatusCode, strings.TrimSpace(string(b)), nil
}

// csrfToken returns the cached anti-forgery token, fetching one if needed.
func (c *Client) csrfToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.csrf
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+csrfPath, nil)
	if err != nil {
		return "", fmt.Errorf("docusign: build csrf request: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rsp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch csrf token: %v", ErrTransport, err)
	}
	defer rsp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<16))
	if rsp.StatusCode != http.StatusOK {
		return "", &UnexpectedStatusError{Method: http.MethodGet, Path: csrfPath, Code: rsp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var out csrfData
	if err := json.Unmarshal(b, &out); err != nil || out.Token == "" {
		return "", fmt.Errorf("docusign: malformed csrf token response")
	}

	c.mu.Lock()
	c.csrf = out.Token
	c.mu.Unlock()
	return out.Token, nil
}
