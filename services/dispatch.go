package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taxmailer/database"
)

// Built-in fallback used when no template is stored at all.
const (
	builtinSubject = "Form 1099-NEC - Commissions Received"
	builtinBody    = "<p>Dear agency owner,</p>" +
		"<p>Attached you will find form 1099-NEC for the commissions received " +
		"during the sales period. Please review the information carefully and " +
		"contact the accounting department if you find any errors or need a " +
		"printed copy.</p>" +
		"<p>Sincerely,<br>Accounting Department</p>"
)

const documentExt = ".pdf"

// DispatchOptions select draft mode and an explicit template for a dispatch.
type DispatchOptions struct {
	AsDraft    bool
	TemplateID string
}

// Result reports the outcome of a single dispatch attempt.
type Result struct {
	AgencyCode string           `json:"agency_code"`
	Outcome    database.Outcome `json:"outcome"`
	Message    string           `json:"message"`
}

// Summary aggregates one batch run.
type Summary struct {
	Total        int          `json:"total"`
	SuccessCount int          `json:"success_count"`
	ErrorCount   int          `json:"error_count"`
	Errors       []BatchError `json:"errors"`
}

// Dispatcher is the campaign dispatch engine. It resolves templates, verifies
// document presence, invokes the transport and records every attempt in the
// append-only send log.
type Dispatcher struct {
	recipients RecipientStore
	records    SendRecordStore
	templates  TemplateStore
	activity   ActivityLogStore
	transport  Transport
	progress   *Progress

	uploadDir   string
	sendTimeout time.Duration
	log         zerolog.Logger

	// pause is swapped out by tests to observe batch pacing.
	pause func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	recipients RecipientStore,
	records SendRecordStore,
	templates TemplateStore,
	activity ActivityLogStore,
	transport Transport,
	progress *Progress,
	uploadDir string,
	sendTimeout time.Duration,
	log zerolog.Logger,
) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		recipients:  recipients,
		records:     records,
		templates:   templates,
		activity:    activity,
		transport:   transport,
		progress:    progress,
		uploadDir:   uploadDir,
		sendTimeout: sendTimeout,
		log:         log,
		pause:       waitPause,
	}
}

// DocumentPath returns where the recipient's PDF must live.
func (d *Dispatcher) DocumentPath(agencyCode string) string {
	return filepath.Join(d.uploadDir, agencyCode+documentExt)
}

// DispatchOne sends (or drafts) the form for a single recipient.
//
// A missing recipient or document fails before the transport is ever
// invoked. Transport failures do not come back as an error: they are appended
// to the send log and reported in the Result, so the recipient stays pending
// and can be retried.
func (d *Dispatcher) DispatchOne(ctx context.Context, recipientID string, opts DispatchOptions) (*Result, error) {
	r, err := d.recipients.ByID(ctx, recipientID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}

	docPath := d.DocumentPath(r.AgencyCode)
	if _, err := os.Stat(docPath); err != nil {
		msg := "document not found: " + docPath
		d.logActivity(ctx, r.AgencyCode, actionName(opts.AsDraft), "error", msg)
		return nil, fmt.Errorf("%w: %s", ErrDocumentMissing, docPath)
	}

	tpl, err := d.resolveTemplate(ctx, opts.TemplateID)
	if err != nil {
		return nil, err
	}

	res, err := d.send(ctx, *r, tpl, opts.AsDraft)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// DispatchAll runs one paced batch over the pending set.
//
// Exactly one batch may run at a time; a second call fails with
// ErrBatchRunning while the first holds the claim. Per-recipient failures
// (missing document, transport error) are recorded and the loop continues;
// only store-level failures abort the batch, and the progress claim is
// released on every exit path.
func (d *Dispatcher) DispatchAll(ctx context.Context, delay time.Duration, opts DispatchOptions) (*Summary, error) {
	if err := d.progress.Begin(); err != nil {
		return nil, err
	}
	defer d.progress.Finish()

	pending, err := d.recipients.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending recipients: %w", err)
	}
	d.progress.SetTotal(len(pending))

	tpl, err := d.resolveTemplate(ctx, opts.TemplateID)
	if err != nil {
		return nil, err
	}

	d.log.Info().Int("total", len(pending)).Bool("draft", opts.AsDraft).
		Dur("delay", delay).Msg("batch dispatch started")

	summary := &Summary{Total: len(pending)}
	for i, r := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		// Advance before pausing so observers see the recipient being
		// worked on, not the previous one, for the whole delay. No pause
		// before the first send.
		d.progress.Advance(i+1, r.AgencyCode)
		if i > 0 {
			if err := d.pause(ctx, delay); err != nil {
				return summary, err
			}
		}

		res, err := d.attempt(ctx, r, tpl, opts.AsDraft)
		if err != nil {
			return summary, err
		}
		if res.Outcome == database.OutcomeError {
			summary.ErrorCount++
			summary.Errors = append(summary.Errors, BatchError{
				AgencyCode: r.AgencyCode,
				Email:      r.Email,
				Error:      res.Message,
			})
			d.progress.Fail(r.AgencyCode, r.Email, res.Message)
			continue
		}
		summary.SuccessCount++
	}

	d.log.Info().Int("success", summary.SuccessCount).Int("errors", summary.ErrorCount).
		Msg("batch dispatch finished")
	return summary, nil
}

// attempt handles one recipient inside a batch. A missing document records an
// error outcome without invoking the transport.
func (d *Dispatcher) attempt(ctx context.Context, r database.Recipient, tpl *database.EmailTemplate, asDraft bool) (Result, error) {
	docPath := d.DocumentPath(r.AgencyCode)
	if _, err := os.Stat(docPath); err != nil {
		msg := "document not found: " + docPath
		rec := database.SendRecord{
			AgencyCode: r.AgencyCode,
			Email:      r.Email,
			Outcome:    database.OutcomeError,
			Message:    msg,
		}
		if err := d.records.Append(ctx, rec); err != nil {
			return Result{}, err
		}
		d.logActivity(ctx, r.AgencyCode, actionName(asDraft), "error", msg)
		return Result{AgencyCode: r.AgencyCode, Outcome: database.OutcomeError, Message: msg}, nil
	}
	return d.send(ctx, r, tpl, asDraft)
}

// send invokes the transport and records the outcome. Only store failures are
// returned as errors.
func (d *Dispatcher) send(ctx context.Context, r database.Recipient, tpl *database.EmailTemplate, asDraft bool) (Result, error) {
	subject, body := renderTemplate(tpl, r)
	msg := OutgoingMessage{
		AgencyCode:     r.AgencyCode,
		To:             r.Email,
		Subject:        subject,
		Body:           body,
		AttachmentPath: d.DocumentPath(r.AgencyCode),
		AsDraft:        asDraft,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	sendErr := d.transport.Send(sendCtx, msg)
	cancel()

	action := actionName(asDraft)
	if sendErr != nil {
		rec := database.SendRecord{
			AgencyCode: r.AgencyCode,
			Email:      r.Email,
			Outcome:    database.OutcomeError,
			Message:    sendErr.Error(),
		}
		if err := d.records.Append(ctx, rec); err != nil {
			return Result{}, err
		}
		d.logActivity(ctx, r.AgencyCode, action, "error", sendErr.Error())
		d.log.Warn().Str("agency_code", r.AgencyCode).Err(sendErr).Msg("dispatch failed")
		return Result{AgencyCode: r.AgencyCode, Outcome: database.OutcomeError, Message: sendErr.Error()}, nil
	}

	outcome := database.OutcomeSuccess
	message := "sent to " + r.Email
	if asDraft {
		outcome = database.OutcomeDraft
		message = "draft saved for " + r.Email
	}
	rec := database.SendRecord{
		AgencyCode: r.AgencyCode,
		Email:      r.Email,
		Outcome:    outcome,
		Message:    message,
	}
	if err := d.records.Append(ctx, rec); err != nil {
		return Result{}, err
	}
	d.logActivity(ctx, r.AgencyCode, action, "success", message)

	// Drafts are not confirmed deliveries: the recipient stays pending and
	// only a real send refreshes the cached projection.
	if !asDraft {
		if err := d.recipients.MarkSent(ctx, r.AgencyCode, time.Now()); err != nil {
			d.log.Warn().Str("agency_code", r.AgencyCode).Err(err).
				Msg("failed to refresh sent projection")
		}
	}
	return Result{AgencyCode: r.AgencyCode, Outcome: outcome, Message: message}, nil
}

func (d *Dispatcher) resolveTemplate(ctx context.Context, templateID string) (*database.EmailTemplate, error) {
	if templateID != "" {
		tpl, err := d.templates.ByID(ctx, templateID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return tpl, err
	}
	tpl, err := d.templates.Default(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return &database.EmailTemplate{Subject: builtinSubject, Body: builtinBody}, nil
	}
	return tpl, err
}

func renderTemplate(tpl *database.EmailTemplate, r database.Recipient) (subject, body string) {
	repl := strings.NewReplacer(
		"{{agency_code}}", r.AgencyCode,
		"{{email}}", r.Email,
	)
	return repl.Replace(tpl.Subject), repl.Replace(tpl.Body)
}

func (d *Dispatcher) logActivity(ctx context.Context, agencyCode, action, status, message string) {
	if err := d.activity.Append(ctx, agencyCode, action, status, message); err != nil {
		d.log.Warn().Str("agency_code", agencyCode).Err(err).Msg("failed to append activity log")
	}
}

func actionName(asDraft bool) string {
	if asDraft {
		return "save_draft"
	}
	return "send_email"
}

func waitPause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
