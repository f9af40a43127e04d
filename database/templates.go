package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Templates persists named subject/body pairs.
type Templates struct {
	db *sql.DB
}

func NewTemplates(db *sql.DB) *Templates {
	return &Templates{db: db}
}

// Create inserts a template. Creating a new default clears the flag on every
// other template in the same transaction, so steady state keeps exactly one.
func (s *Templates) Create(ctx context.Context, t EmailTemplate) (*EmailTemplate, error) {
	t.ID = uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin template transaction: %w", err)
	}
	defer tx.Rollback()

	if t.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE email_templates SET is_default = FALSE`); err != nil {
			return nil, fmt.Errorf("failed to clear default templates: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO email_templates (id, name, subject, body, is_default)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Name, t.Subject, t.Body, t.IsDefault)
	if err != nil {
		return nil, fmt.Errorf("failed to insert template: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit template: %w", err)
	}
	return &t, nil
}

// Update rewrites name, subject and body. The default flag is managed by
// Create only.
func (s *Templates) Update(ctx context.Context, t EmailTemplate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_templates SET name = $2, subject = $3, body = $4 WHERE id = $1`,
		t.ID, t.Name, t.Subject, t.Body)
	if err != nil {
		return fmt.Errorf("failed to update template %s: %w", t.ID, err)
	}
	return oneRowAffected(res)
}

func (s *Templates) ByID(ctx context.Context, id string) (*EmailTemplate, error) {
	return s.queryOne(ctx,
		`SELECT id, name, subject, body, is_default FROM email_templates WHERE id = $1`, id)
}

// Default returns the template flagged as default, or ErrNotFound when the
// flag is missing everywhere (callers fall back to the built-in message).
func (s *Templates) Default(ctx context.Context) (*EmailTemplate, error) {
	return s.queryOne(ctx,
		`SELECT id, name, subject, body, is_default FROM email_templates
		 WHERE is_default ORDER BY name LIMIT 1`)
}

func (s *Templates) List(ctx context.Context) ([]EmailTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, subject, body, is_default FROM email_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []EmailTemplate
	for rows.Next() {
		var t EmailTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.IsDefault); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template rows: %w", err)
	}
	return out, nil
}

// Delete removes a template. The default template is protected and returns
// ErrProtectedDefault, leaving the row in place. The guard lives in the
// DELETE itself so a concurrent default-flag change cannot slip a protected
// row past a separate check.
func (s *Templates) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM email_templates WHERE id = $1 AND NOT is_default`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.ByID(ctx, id); err != nil {
		return err
	}
	return ErrProtectedDefault
}

func (s *Templates) queryOne(ctx context.Context, q string, args ...any) (*EmailTemplate, error) {
	var t EmailTemplate
	err := s.db.QueryRowContext(ctx, q, args...).
		Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.IsDefault)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	return &t, nil
}
