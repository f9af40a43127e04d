package database

import "time"

// Outcome classifies one dispatch attempt in the send log.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeDraft   Outcome = "draft"
)

// Recipient is one roster row imported from the agency spreadsheet.
//
// Sent and SentAt are a cached projection of the send log; the authoritative
// pending/sent state is always derived from send_records (a recipient is
// pending while no success record exists for its agency code).
type Recipient struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"seq"`
	AgencyCode  string     `json:"agency_code"`
	Email       string     `json:"email"`
	HasDocument bool       `json:"has_document"`
	Sent        bool       `json:"sent"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// SendRecord is one row of the append-only dispatch attempt log.
// Retries of the same recipient each append a new row.
type SendRecord struct {
	ID         int64     `json:"id"`
	AgencyCode string    `json:"agency_code"`
	Email      string    `json:"email"`
	Outcome    Outcome   `json:"outcome"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// PendingDocument is a dropped PDF whose agency code matched no known
// recipient at arrival time. It stays queued until a matching recipient
// appears or an operator links it manually.
type PendingDocument struct {
	ID          int64      `json:"id"`
	AgencyCode  string     `json:"agency_code"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// EmailTemplate is a named subject/body pair. The default template cannot be
// deleted.
type EmailTemplate struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	IsDefault bool   `json:"is_default"`
}

// ActivityLogEntry is one append-only diagnostic row written by the engine.
type ActivityLogEntry struct {
	ID         int64     `json:"id"`
	AgencyCode string    `json:"agency_code"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
