package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ImportRow is one parsed roster row handed to the recipient import.
type ImportRow struct {
	AgencyCode string
	Email      string
}

// Recipients persists the recipient roster.
type Recipients struct {
	db *sql.DB
}

func NewRecipients(db *sql.DB) *Recipients {
	return &Recipients{db: db}
}

const recipientColumns = "id, seq, agency_code, email, has_document, sent, sent_at"

// ImportReplace replaces the whole roster with the given rows in a single
// transaction and writes one activity-log row. This is a destructive import,
// not a merge.
func (s *Recipients) ImportReplace(ctx context.Context, rows []ImportRow) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM recipients"); err != nil {
		return 0, fmt.Errorf("failed to clear recipients: %w", err)
	}

	// Duplicate agency codes take the conflict path and update the existing
	// row, so only first occurrences count toward the distinct total.
	seen := make(map[string]struct{}, len(rows))
	count := 0
	for _, row := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recipients (id, agency_code, email)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (agency_code) DO UPDATE SET email = EXCLUDED.email`,
			uuid.NewString(), row.AgencyCode, row.Email,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert recipient %s: %w", row.AgencyCode, err)
		}
		if _, dup := seen[row.AgencyCode]; !dup {
			seen[row.AgencyCode] = struct{}{}
			count++
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO activity_log (agency_code, action, status, message)
		 VALUES ('SYSTEM', 'import', 'success', $1)`,
		fmt.Sprintf("imported %d recipients", count),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to log import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return count, nil
}

// Pending returns recipients with no successful send record, in stable
// insertion order. This derivation is the authoritative pending state; the
// sent flag on the row is only a cached projection.
func (s *Recipients) Pending(ctx context.Context) ([]Recipient, error) {
	return s.query(ctx, `
		SELECT `+recipientColumns+` FROM recipients r
		WHERE NOT EXISTS (
			SELECT 1 FROM send_records sr
			WHERE sr.agency_code = r.agency_code AND sr.outcome = 'success'
		)
		ORDER BY seq`)
}

// Sent returns recipients with at least one successful send record.
func (s *Recipients) Sent(ctx context.Context) ([]Recipient, error) {
	return s.query(ctx, `
		SELECT `+recipientColumns+` FROM recipients r
		WHERE EXISTS (
			SELECT 1 FROM send_records sr
			WHERE sr.agency_code = r.agency_code AND sr.outcome = 'success'
		)
		ORDER BY seq`)
}

// All returns the whole roster in insertion order.
func (s *Recipients) All(ctx context.Context) ([]Recipient, error) {
	return s.query(ctx, `SELECT `+recipientColumns+` FROM recipients ORDER BY seq`)
}

func (s *Recipients) ByID(ctx context.Context, id string) (*Recipient, error) {
	return s.queryOne(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = $1`, id)
}

func (s *Recipients) ByAgencyCode(ctx context.Context, code string) (*Recipient, error) {
	return s.queryOne(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE agency_code = $1`, code)
}

// SetDocumentLinked flags whether the recipient's PDF is present on disk.
func (s *Recipients) SetDocumentLinked(ctx context.Context, code string, linked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET has_document = $2 WHERE agency_code = $1`, code, linked)
	if err != nil {
		return fmt.Errorf("failed to update document link for %s: %w", code, err)
	}
	return oneRowAffected(res)
}

// MarkSent refreshes the cached sent projection after a confirmed delivery.
func (s *Recipients) MarkSent(ctx context.Context, code string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET sent = TRUE, sent_at = $2 WHERE agency_code = $1`, code, at)
	if err != nil {
		return fmt.Errorf("failed to mark %s sent: %w", code, err)
	}
	return oneRowAffected(res)
}

func (s *Recipients) DeleteByAgencyCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recipients WHERE agency_code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to delete recipient %s: %w", code, err)
	}
	return oneRowAffected(res)
}

// Clear removes every recipient. Send records are kept: the attempt log is
// append-only.
func (s *Recipients) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recipients`); err != nil {
		return fmt.Errorf("failed to clear recipients: %w", err)
	}
	return nil
}

func (s *Recipients) query(ctx context.Context, q string, args ...any) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.Seq, &r.AgencyCode, &r.Email, &r.HasDocument, &r.Sent, &r.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipient row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipient rows: %w", err)
	}
	return out, nil
}

func (s *Recipients) queryOne(ctx context.Context, q string, args ...any) (*Recipient, error) {
	var r Recipient
	err := s.db.QueryRowContext(ctx, q, args...).
		Scan(&r.ID, &r.Seq, &r.AgencyCode, &r.Email, &r.HasDocument, &r.Sent, &r.SentAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recipient: %w", err)
	}
	return &r, nil
}

func oneRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
