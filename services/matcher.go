package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"taxmailer/database"
)

// Matcher reconciles dropped PDFs against the recipient roster. A document's
// basename (minus the .pdf suffix) is the agency code, matched case-sensitively.
type Matcher struct {
	recipients RecipientStore
	pending    PendingDocumentStore
	activity   ActivityLogStore
	uploadDir  string
	log        zerolog.Logger
}

func NewMatcher(
	recipients RecipientStore,
	pending PendingDocumentStore,
	activity ActivityLogStore,
	uploadDir string,
	log zerolog.Logger,
) *Matcher {
	return &Matcher{
		recipients: recipients,
		pending:    pending,
		activity:   activity,
		uploadDir:  uploadDir,
		log:        log,
	}
}

// AgencyCodeFromFilename derives the agency code from a document filename,
// or "" when the file is not a document.
func AgencyCodeFromFilename(name string) string {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, documentExt) {
		return ""
	}
	return strings.TrimSuffix(base, documentExt)
}

// Match links a document to its recipient, or queues it as unmatched. It
// reports whether a link was made. Idempotent: re-matching a linked document
// or an already queued code changes nothing.
func (m *Matcher) Match(ctx context.Context, code string) (bool, error) {
	_, err := m.recipients.ByAgencyCode(ctx, code)
	switch {
	case err == nil:
		if err := m.recipients.SetDocumentLinked(ctx, code, true); err != nil {
			return false, fmt.Errorf("failed to link document %s: %w", code, err)
		}
		if err := m.pending.MarkProcessed(ctx, code); err != nil {
			return false, err
		}
		m.logActivity(ctx, code, "success", "document linked to recipient")
		m.log.Debug().Str("agency_code", code).Msg("document matched")
		return true, nil

	case errors.Is(err, database.ErrNotFound):
		created, err := m.pending.Enqueue(ctx, code)
		if err != nil {
			return false, err
		}
		if created {
			m.logActivity(ctx, code, "pending", "no recipient for document; queued as unmatched")
			m.log.Info().Str("agency_code", code).Msg("document queued as unmatched")
		}
		return false, nil

	default:
		return false, err
	}
}

// Scan walks the upload directory and matches every document, returning how
// many were linked to recipients. Safe to invoke repeatedly; a scan with no
// new files creates no new queue entries.
func (m *Matcher) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.uploadDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	linked := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		code := AgencyCodeFromFilename(entry.Name())
		if code == "" {
			continue
		}
		ok, err := m.Match(ctx, code)
		if err != nil {
			return linked, err
		}
		if ok {
			linked++
		}
	}
	return linked, nil
}

// Link records an operator-supplied document/recipient association,
// bypassing filename matching. The named file must exist in the upload
// directory.
func (m *Matcher) Link(ctx context.Context, code, filename string) error {
	path := filepath.Join(m.uploadDir, filepath.Base(filename))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}

	if _, err := m.recipients.ByAgencyCode(ctx, code); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrRecipientNotFound
		}
		return err
	}
	if err := m.recipients.SetDocumentLinked(ctx, code, true); err != nil {
		return err
	}
	if err := m.pending.MarkProcessed(ctx, code); err != nil {
		return err
	}
	m.logActivity(ctx, code, "success", "document linked manually: "+filepath.Base(filename))
	return nil
}

// ReconcileImport re-derives document links after a roster import. The
// import wipes the roster, dropping links made before it even though the
// documents are still on disk, so a full directory scan runs first; the
// unmatched queue is then drained for documents whose file has since been
// removed. Returns how many recipients ended up linked.
func (m *Matcher) ReconcileImport(ctx context.Context) (int, error) {
	linked, err := m.Scan(ctx)
	if err != nil {
		return linked, err
	}

	docs, err := m.pending.Unprocessed(ctx)
	if err != nil {
		return linked, err
	}
	for _, doc := range docs {
		_, err := m.recipients.ByAgencyCode(ctx, doc.AgencyCode)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return linked, err
		}
		if err := m.recipients.SetDocumentLinked(ctx, doc.AgencyCode, true); err != nil {
			return linked, err
		}
		if err := m.pending.MarkProcessed(ctx, doc.AgencyCode); err != nil {
			return linked, err
		}
		m.logActivity(ctx, doc.AgencyCode, "success", "queued document linked after import")
		linked++
	}
	return linked, nil
}

func (m *Matcher) logActivity(ctx context.Context, code, status, message string) {
	if err := m.activity.Append(ctx, code, "match", status, message); err != nil {
		m.log.Warn().Str("agency_code", code).Err(err).Msg("failed to append activity log")
	}
}
