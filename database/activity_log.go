package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ActivityLog persists the append-only diagnostic log written by the engine.
type ActivityLog struct {
	db *sql.DB
}

func NewActivityLog(db *sql.DB) *ActivityLog {
	return &ActivityLog{db: db}
}

// Append writes one diagnostic row.
func (s *ActivityLog) Append(ctx context.Context, agencyCode, action, status, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (agency_code, action, status, message)
		 VALUES ($1, $2, $3, $4)`,
		agencyCode, action, status, message)
	if err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}
	return nil
}

// Recent returns the newest entries, capped at limit.
func (s *ActivityLog) Recent(ctx context.Context, limit int) ([]ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agency_code, action, status, message, created_at
		 FROM activity_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	return scanActivityLog(rows)
}

// Clear wipes the log. Operator action only.
func (s *ActivityLog) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activity_log`); err != nil {
		return fmt.Errorf("failed to clear activity log: %w", err)
	}
	return nil
}

func scanActivityLog(rows *sql.Rows) ([]ActivityLogEntry, error) {
	defer rows.Close()
	var out []ActivityLogEntry
	for rows.Next() {
		var e ActivityLogEntry
		if err := rows.Scan(&e.ID, &e.AgencyCode, &e.Action, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity log rows: %w", err)
	}
	return out, nil
}
