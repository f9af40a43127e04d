package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxmailer/config"
	"taxmailer/database"
	"taxmailer/services"
)

// memStore is a minimal in-memory store backing a real Dispatcher in handler
// tests.
type memStore struct {
	mu         sync.Mutex
	recipients []database.Recipient
	records    []database.SendRecord
	daily      int
}

func (m *memStore) ByID(ctx context.Context, id string) (*database.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recipients {
		if m.recipients[i].ID == id {
			r := m.recipients[i]
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) ByAgencyCode(ctx context.Context, code string) (*database.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recipients {
		if m.recipients[i].AgencyCode == code {
			r := m.recipients[i]
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) Pending(ctx context.Context) ([]database.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Recipient
	for _, r := range m.recipients {
		sent := false
		for _, rec := range m.records {
			if rec.AgencyCode == r.AgencyCode && rec.Outcome == database.OutcomeSuccess {
				sent = true
				break
			}
		}
		if !sent {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) SetDocumentLinked(ctx context.Context, code string, linked bool) error {
	return nil
}

func (m *memStore) MarkSent(ctx context.Context, code string, at time.Time) error { return nil }

func (m *memStore) Append(ctx context.Context, rec database.SendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) TemplateByID(ctx context.Context, id string) (*database.EmailTemplate, error) {
	return nil, database.ErrNotFound
}

func (m *memStore) Default(ctx context.Context) (*database.EmailTemplate, error) {
	return nil, database.ErrNotFound
}

func (m *memStore) AppendActivity(ctx context.Context, agencyCode, action, status, message string) error {
	return nil
}

func (m *memStore) DailySendCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily, nil
}

type tplStore struct{ *memStore }

func (s tplStore) ByID(ctx context.Context, id string) (*database.EmailTemplate, error) {
	return s.memStore.TemplateByID(ctx, id)
}

type actStore struct{ *memStore }

func (s actStore) Append(ctx context.Context, agencyCode, action, status, message string) error {
	return s.memStore.AppendActivity(ctx, agencyCode, action, status, message)
}

type stubTransport struct {
	mu   sync.Mutex
	fail bool
	sent int
}

func (t *stubTransport) Send(ctx context.Context, msg services.OutgoingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return &services.TransportError{Reason: "relay refused"}
	}
	t.sent++
	return nil
}

func newTestDispatcher(store *memStore, tr services.Transport, uploadDir string) (*services.Dispatcher, *services.Progress) {
	progress := services.NewProgress()
	d := services.NewDispatcher(
		store, store, tplStore{store}, actStore{store},
		tr, progress, uploadDir, time.Second, zerolog.Nop(),
	)
	return d, progress
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStatusHandler(t *testing.T) {
	progress := services.NewProgress()
	require.NoError(t, progress.Begin())
	progress.SetTotal(4)
	progress.Advance(2, "B2")

	rec := httptest.NewRecorder()
	StatusHandler(progress)(rec, httptest.NewRequest("GET", "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "success", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var batch services.Batch
	require.NoError(t, json.Unmarshal(data, &batch))
	assert.True(t, batch.IsSending)
	assert.Equal(t, 4, batch.Total)
	assert.Equal(t, "B2", batch.CurrentAgency)
	progress.Finish()
}

func TestSendOneHandlerUnknownRecipient(t *testing.T) {
	d, _ := newTestDispatcher(&memStore{}, &stubTransport{}, t.TempDir())
	h := SendOneHandler(d)

	req := httptest.NewRequest("POST", "/api/recipients/nope/send", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", decodeResponse(t, rec).Status)
}

func TestSendOneHandlerTransportFailure(t *testing.T) {
	store := &memStore{}
	store.recipients = append(store.recipients, database.Recipient{
		ID: "id-A1", AgencyCode: "A1", Email: "a@x.com",
	})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A1.pdf"), []byte("%PDF-1.4"), 0o644))

	d, _ := newTestDispatcher(store, &stubTransport{fail: true}, dir)
	h := SendOneHandler(d)

	req := httptest.NewRequest("POST", "/api/recipients/id-A1/send", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "id-A1"})
	rec := httptest.NewRecorder()
	h(rec, req)

	// Transport failure is a structured result, not an HTTP failure.
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "relay refused")
}

func TestSendAllHandlerDailyLimit(t *testing.T) {
	store := &memStore{daily: 2000}
	d, _ := newTestDispatcher(store, &stubTransport{}, t.TempDir())
	cfg := &config.Config{DailyMailLimit: 2000}
	h := SendAllHandler(d, store, cfg)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/send-all", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendAllHandlerInvalidDelay(t *testing.T) {
	store := &memStore{}
	d, _ := newTestDispatcher(store, &stubTransport{}, t.TempDir())
	cfg := &config.Config{DailyMailLimit: 2000}
	h := SendAllHandler(d, store, cfg)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/send-all?delay=abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendAllHandlerRunsBatch(t *testing.T) {
	store := &memStore{}
	store.recipients = append(store.recipients, database.Recipient{
		ID: "id-A1", AgencyCode: "A1", Email: "a@x.com",
	})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A1.pdf"), []byte("%PDF-1.4"), 0o644))

	tr := &stubTransport{}
	d, progress := newTestDispatcher(store, tr, dir)
	cfg := &config.Config{DailyMailLimit: 2000}
	h := SendAllHandler(d, store, cfg)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/send-all?delay=0", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, tr.sent)
	assert.False(t, progress.Snapshot().IsSending)
}

func TestListDocumentsHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A1.pdf"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	rec := httptest.NewRecorder()
	ListDocumentsHandler(dir)(rec, httptest.NewRequest("GET", "/api/documents", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var docs []string
	require.NoError(t, json.Unmarshal(data, &docs))
	assert.Equal(t, []string{"A1.pdf"}, docs)
}
