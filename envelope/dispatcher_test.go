package envelope

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"signflow/docusign"
)

type fakeActionAPI struct {
	mu        sync.Mutex
	signCalls int
	importCalls int
	signResult docusign.SignResult
	signErr    error
	gate       chan struct{}

	lastClaim     string
	lastRecipient docusign.Recipient
	lastFilename  string
	lastDocument  []byte
}

func (f *fakeActionAPI) Sign(_ context.Context, claimID string, recipient docusign.Recipient) (docusign.SignResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signCalls++
	f.lastClaim = claimID
	f.lastRecipient = recipient
	return f.signResult, f.signErr
}

func (f *fakeActionAPI) Import(_ context.Context, claimID, filename string, document io.Reader) (docusign.SignResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importCalls++
	f.lastClaim = claimID
	f.lastFilename = filename
	f.lastDocument, _ = io.ReadAll(document)
	return f.signResult, f.signErr
}

type fakeGate struct {
	connected bool
}

func (f *fakeGate) Connected() bool { return f.connected }

func TestDispatcher_ExportWithSignature(t *testing.T) {
	api := &fakeActionAPI{signResult: docusign.SignResult{EnvelopeID: "env-abc", Status: "sent"}}
	store := NewStore()
	d := NewDispatcher(api, &fakeGate{connected: true}, store)

	id, err := d.ExportWithSignature(context.Background(), "claim-123")
	if err != nil {
		t.Fatalf("export: unexpected error: %v", err)
	}
	if id != "env-abc" {
		t.Fatalf("expected envelope id env-abc, got %q", id)
	}
	if api.lastRecipient != docusign.RecipientInternal {
		t.Fatalf("expected internal recipient, got %s", api.lastRecipient)
	}

	rec, ok := store.Get("env-abc")
	if !ok {
		t.Fatal("expected record in store after export")
	}
	if rec.ClaimID != "claim-123" || rec.Status != StatusSent {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDispatcher_SendForCustomerSignatureUsesCustomerRecipient(t *testing.T) {
	api := &fakeActionAPI{signResult: docusign.SignResult{EnvelopeID: "env-abc", Status: "sent"}}
	d := NewDispatcher(api, &fakeGate{connected: true}, NewStore())

	if _, err := d.SendForCustomerSignature(context.Background(), "claim-123"); err != nil {
		t.Fatalf("send: unexpected error: %v", err)
	}
	if api.lastRecipient != docusign.RecipientCustomer {
		t.Fatalf("expected customer recipient, got %s", api.lastRecipient)
	}
}

func TestDispatcher_RequiresClaimAndConnection(t *testing.T) {
	api := &fakeActionAPI{}
	d := NewDispatcher(api, &fakeGate{connected: false}, NewStore())

	if _, err := d.ExportWithSignature(context.Background(), ""); !errors.Is(err, ErrClaimRequired) {
		t.Fatalf("expected ErrClaimRequired, got %v", err)
	}
	if _, err := d.ExportWithSignature(context.Background(), "claim-123"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if api.signCalls != 0 {
		t.Fatalf("expected no backend calls, got %d", api.signCalls)
	}
}

func TestDispatcher_ImportValidatesLocally(t *testing.T) {
	api := &fakeActionAPI{signResult: docusign.SignResult{EnvelopeID: "env-abc", Status: "sent"}}
	d := NewDispatcher(api, &fakeGate{connected: true}, NewStore())
	d.SetMaxImportSize(64)

	cases := []struct {
		name string
		body string
		size int64
	}{
		{"zero size", "%PDF-1.7 content", 0},
		{"over bound", "%PDF-1.7 " + strings.Repeat("x", 128), 128},
		{"not a pdf", "hello world", 11},
	}
	for _, tc := range cases {
		_, err := d.ImportDocument(context.Background(), "claim-123", "doc.pdf", strings.NewReader(tc.body), tc.size)
		if !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("%s: expected ErrInvalidDocument, got %v", tc.name, err)
		}
	}
	if api.importCalls != 0 {
		t.Fatalf("expected invalid documents to never reach the backend, got %d calls", api.importCalls)
	}
}

func TestDispatcher_ImportSuccess(t *testing.T) {
	api := &fakeActionAPI{signResult: docusign.SignResult{EnvelopeID: "env-abc", Status: "sent"}}
	store := NewStore()
	d := NewDispatcher(api, &fakeGate{connected: true}, store)

	doc := []byte("%PDF-1.7 minimal")
	id, err := d.ImportDocument(context.Background(), "claim-123", "roof-report.pdf", bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		t.Fatalf("import: unexpected error: %v", err)
	}
	if id != "env-abc" {
		t.Fatalf("expected env-abc, got %q", id)
	}
	if api.lastFilename != "roof-report.pdf" {
		t.Fatalf("expected filename to pass through, got %q", api.lastFilename)
	}
	if !bytes.Equal(api.lastDocument, doc) {
		t.Fatal("expected document bytes to pass through unchanged")
	}
	if _, ok := store.Get("env-abc"); !ok {
		t.Fatal("expected record in store after import")
	}
}

func TestDispatcher_CoalescesConcurrentIdenticalActions(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeActionAPI{
		signResult: docusign.SignResult{EnvelopeID: "env-abc", Status: "sent"},
		gate:       gate,
	}
	d := NewDispatcher(api, &fakeGate{connected: true}, NewStore())

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = d.ExportWithSignature(context.Background(), "claim-123")
		}(i)
	}

	// Give both goroutines time to join the in-flight call, then release it.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: unexpected error: %v", i, errs[i])
		}
		if ids[i] != "env-abc" {
			t.Fatalf("call %d: expected env-abc, got %q", i, ids[i])
		}
	}
	if api.signCalls != 1 {
		t.Fatalf("expected exactly one backend call, got %d", api.signCalls)
	}
}

func TestDispatcher_RemoteFailurePropagates(t *testing.T) {
	api := &fakeActionAPI{signErr: &docusign.RemoteError{Op: "sign", Message: "claim not found"}}
	d := NewDispatcher(api, &fakeGate{connected: true}, NewStore())

	_, err := d.ExportWithSignature(context.Background(), "claim-123")
	var remoteErr *docusign.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}
