package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PendingDocuments is the queue of dropped PDFs whose agency code had no
// matching recipient when they arrived.
type PendingDocuments struct {
	db *sql.DB
}

func NewPendingDocuments(db *sql.DB) *PendingDocuments {
	return &PendingDocuments{db: db}
}

// Enqueue records an unmatched document. When an unprocessed entry for the
// same agency code already exists this is a no-op, so repeated directory
// scans never duplicate the queue.
func (s *PendingDocuments) Enqueue(ctx context.Context, code string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM pending_documents WHERE agency_code = $1 AND NOT processed
		)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending documents for %s: %w", code, err)
	}
	if exists {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pending_documents (agency_code) VALUES ($1)`, code)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue pending document %s: %w", code, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit pending document %s: %w", code, err)
	}
	return true, nil
}

// Unprocessed returns queued documents that still have no recipient.
func (s *PendingDocuments) Unprocessed(ctx context.Context) ([]PendingDocument, error) {
	return s.query(ctx,
		`SELECT id, agency_code, uploaded_at, processed, processed_at
		 FROM pending_documents WHERE NOT processed ORDER BY uploaded_at`)
}

// List returns the whole queue, newest first. Entries are never auto-deleted.
func (s *PendingDocuments) List(ctx context.Context) ([]PendingDocument, error) {
	return s.query(ctx,
		`SELECT id, agency_code, uploaded_at, processed, processed_at
		 FROM pending_documents ORDER BY uploaded_at DESC`)
}

// MarkProcessed resolves queued entries for the agency code once a matching
// recipient appeared or an operator linked the document manually.
func (s *PendingDocuments) MarkProcessed(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_documents SET processed = TRUE, processed_at = $2
		 WHERE agency_code = $1 AND NOT processed`, code, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark pending document %s processed: %w", code, err)
	}
	return nil
}

func (s *PendingDocuments) query(ctx context.Context, q string) ([]PendingDocument, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending documents: %w", err)
	}
	defer rows.Close()

	var out []PendingDocument
	for rows.Next() {
		var d PendingDocument
		if err := rows.Scan(&d.ID, &d.AgencyCode, &d.UploadedAt, &d.Processed, &d.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending document row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending document rows: %w", err)
	}
	return out, nil
}
