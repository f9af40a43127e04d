package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SendRecords persists the append-only dispatch attempt log.
type SendRecords struct {
	db *sql.DB
}

func NewSendRecords(db *sql.DB) *SendRecords {
	return &SendRecords{db: db}
}

// Append writes one attempt row. Rows are never updated or deleted.
func (s *SendRecords) Append(ctx context.Context, rec SendRecord) error {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_records (agency_code, email, outcome, message, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.AgencyCode, rec.Email, rec.Outcome, rec.Message, at,
	)
	if err != nil {
		return fmt.Errorf("failed to append send record for %s: %w", rec.AgencyCode, err)
	}
	return nil
}

// SuccessExists reports whether the agency code has at least one confirmed
// delivery. Drafts and errors do not count.
func (s *SendRecords) SuccessExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM send_records WHERE agency_code = $1 AND outcome = 'success'
		)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check send history for %s: %w", code, err)
	}
	return exists, nil
}

// ByAgencyCode returns the attempt history for one recipient, newest first.
func (s *SendRecords) ByAgencyCode(ctx context.Context, code string) ([]SendRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agency_code, email, outcome, message, created_at
		 FROM send_records WHERE agency_code = $1 ORDER BY created_at DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query send records: %w", err)
	}
	return scanSendRecords(rows)
}

// DailySendCount returns the number of transport sends performed today
// (drafts excluded), used to enforce the daily mail limit.
func (s *SendRecords) DailySendCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM send_records
		 WHERE outcome = 'success' AND created_at::date = CURRENT_DATE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get daily send count: %w", err)
	}
	return count, nil
}

// StatusDistribution returns today's attempt counts grouped by outcome.
// All outcomes are present in the result even when zero, for consistent JSON.
func (s *SendRecords) StatusDistribution(ctx context.Context) (map[Outcome]int, error) {
	counts := map[Outcome]int{OutcomeSuccess: 0, OutcomeError: 0, OutcomeDraft: 0}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM send_records
		 WHERE created_at::date = CURRENT_DATE GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to get status distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome Outcome
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status distribution row: %w", err)
		}
		counts[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status distribution rows: %w", err)
	}
	return counts, nil
}

// DailySendsOverPeriod returns per-day attempt counts for the last 'days'
// days, zero-filled so charts get a continuous series.
func (s *SendRecords) DailySendsOverPeriod(ctx context.Context, days int) (map[string]int, error) {
	daily := make(map[string]int, days)
	today := time.Now()
	for i := 0; i < days; i++ {
		daily[today.AddDate(0, 0, -i).Format("2006-01-02")] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at::date AS day, COUNT(*)
		 FROM send_records
		 WHERE created_at::date >= CURRENT_DATE - ($1 - 1) * INTERVAL '1 day'
		 GROUP BY day ORDER BY day`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily sends over period: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day time.Time
		var count int
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily sends row: %w", err)
		}
		daily[day.Format("2006-01-02")] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily sends rows: %w", err)
	}
	return daily, nil
}

func scanSendRecords(rows *sql.Rows) ([]SendRecord, error) {
	defer rows.Close()
	var out []SendRecord
	for rows.Next() {
		var r SendRecord
		if err := rows.Scan(&r.ID, &r.AgencyCode, &r.Email, &r.Outcome, &r.Message, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan send record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating send record rows: %w", err)
	}
	return out, nil
}
