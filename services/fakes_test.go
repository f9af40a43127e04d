package services

import (
	"context"
	"sync"
	"time"

	"taxmailer/database"
)

// fakeStore is an in-memory implementation of every store interface the
// services consume, with pending state derived from the record log exactly
// like the real queries.
type fakeStore struct {
	mu          sync.Mutex
	recipients  []database.Recipient
	records     []database.SendRecord
	pendingDocs []database.PendingDocument
	templates   map[string]database.EmailTemplate
	activity    []database.ActivityLogEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{templates: map[string]database.EmailTemplate{}}
}

func (f *fakeStore) addRecipient(code, email string) database.Recipient {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := database.Recipient{
		ID:         "id-" + code,
		Seq:        int64(len(f.recipients) + 1),
		AgencyCode: code,
		Email:      email,
	}
	f.recipients = append(f.recipients, r)
	return r
}

func (f *fakeStore) removeRecipient(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recipients {
		if f.recipients[i].AgencyCode == code {
			f.recipients = append(f.recipients[:i], f.recipients[i+1:]...)
			return
		}
	}
}

func (f *fakeStore) addTemplate(t database.EmailTemplate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[t.ID] = t
}

func (f *fakeStore) ByID(ctx context.Context, id string) (*database.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recipients {
		if f.recipients[i].ID == id {
			r := f.recipients[i]
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) ByAgencyCode(ctx context.Context, code string) (*database.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recipients {
		if f.recipients[i].AgencyCode == code {
			r := f.recipients[i]
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) Pending(ctx context.Context) ([]database.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Recipient
	for _, r := range f.recipients {
		if !f.successExistsLocked(r.AgencyCode) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SetDocumentLinked(ctx context.Context, code string, linked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recipients {
		if f.recipients[i].AgencyCode == code {
			f.recipients[i].HasDocument = linked
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeStore) MarkSent(ctx context.Context, code string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recipients {
		if f.recipients[i].AgencyCode == code {
			f.recipients[i].Sent = true
			f.recipients[i].SentAt = &at
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeStore) Append(ctx context.Context, rec database.SendRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) recordsFor(code string) []database.SendRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.SendRecord
	for _, r := range f.records {
		if r.AgencyCode == code {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeStore) successExistsLocked(code string) bool {
	for _, r := range f.records {
		if r.AgencyCode == code && r.Outcome == database.OutcomeSuccess {
			return true
		}
	}
	return false
}

func (f *fakeStore) TemplateByID(ctx context.Context, id string) (*database.EmailTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.templates[id]; ok {
		return &t, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) Default(ctx context.Context) (*database.EmailTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.templates {
		if t.IsDefault {
			cp := t
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) Enqueue(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.pendingDocs {
		if d.AgencyCode == code && !d.Processed {
			return false, nil
		}
	}
	f.pendingDocs = append(f.pendingDocs, database.PendingDocument{
		ID:         int64(len(f.pendingDocs) + 1),
		AgencyCode: code,
		UploadedAt: time.Now(),
	})
	return true, nil
}

func (f *fakeStore) Unprocessed(ctx context.Context) ([]database.PendingDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.PendingDocument
	for _, d := range f.pendingDocs {
		if !d.Processed {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.pendingDocs {
		if f.pendingDocs[i].AgencyCode == code && !f.pendingDocs[i].Processed {
			f.pendingDocs[i].Processed = true
			f.pendingDocs[i].ProcessedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) AppendActivity(ctx context.Context, agencyCode, action, status, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, database.ActivityLogEntry{
		ID:         int64(len(f.activity) + 1),
		AgencyCode: agencyCode,
		Action:     action,
		Status:     status,
		Message:    message,
		CreatedAt:  time.Now(),
	})
	return nil
}

// templateStore and activityStore adapt fakeStore methods whose names collide
// with other interfaces.
type templateStore struct{ *fakeStore }

func (s templateStore) ByID(ctx context.Context, id string) (*database.EmailTemplate, error) {
	return s.fakeStore.TemplateByID(ctx, id)
}

type activityStore struct{ *fakeStore }

func (s activityStore) Append(ctx context.Context, agencyCode, action, status, message string) error {
	return s.fakeStore.AppendActivity(ctx, agencyCode, action, status, message)
}

// fakeTransport records outgoing messages; failFor forces transport errors
// per agency code and block (when non-nil) holds sends until released.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []OutgoingMessage
	failFor map[string]string
	block   chan struct{}
}

func (t *fakeTransport) Send(ctx context.Context, msg OutgoingMessage) error {
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return &TransportError{Reason: ctx.Err().Error()}
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if reason, ok := t.failFor[msg.AgencyCode]; ok {
		return &TransportError{Reason: reason}
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) sentMessages() []OutgoingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OutgoingMessage(nil), t.sent...)
}
