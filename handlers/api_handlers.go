package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"taxmailer/config"
	"taxmailer/database"
	"taxmailer/services"
	"taxmailer/spreadsheet"
)

const maxUploadBytes = 32 << 20

// ImportHandler replaces the roster from an uploaded spreadsheet, then
// rescans the upload directory and retries queued unmatched documents so
// links wiped by the import are re-established against the new roster.
func ImportHandler(recipients *database.Recipients, matcher *services.Matcher, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, _, err := formFile(r, "file")
		if err != nil {
			errorResponse(w, "No roster file found in request", http.StatusBadRequest)
			return
		}
		defer file.Close()

		rows, err := spreadsheet.Parse(file)
		if errors.Is(err, spreadsheet.ErrMissingColumns) || errors.Is(err, spreadsheet.ErrNoRows) {
			errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			errorResponse(w, "Failed to parse roster: "+err.Error(), http.StatusBadRequest)
			return
		}

		imported := make([]database.ImportRow, 0, len(rows))
		for _, row := range rows {
			imported = append(imported, database.ImportRow{AgencyCode: row.AgencyCode, Email: row.Email})
		}

		count, err := recipients.ImportReplace(r.Context(), imported)
		if err != nil {
			log.Error().Err(err).Msg("roster import failed")
			errorResponse(w, "Failed to import roster", http.StatusInternalServerError)
			return
		}
		linked, err := matcher.ReconcileImport(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("post-import reconciliation failed")
		}
		successResponse(w, "Roster imported", map[string]int{
			"imported": count,
			"linked":   linked,
		})
	}
}

// UploadDocumentHandler stores a dropped PDF and matches it immediately. The
// directory watcher would pick it up as well; matching is idempotent so the
// double trigger is harmless.
func UploadDocumentHandler(matcher *services.Matcher, uploadDir string, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, name, err := formFile(r, "pdf")
		if err != nil {
			errorResponse(w, "No PDF file found in request", http.StatusBadRequest)
			return
		}
		defer file.Close()

		name = filepath.Base(name)
		code := services.AgencyCodeFromFilename(name)
		if code == "" {
			errorResponse(w, "File must be named {agency_code}.pdf", http.StatusBadRequest)
			return
		}

		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			errorResponse(w, "Failed to prepare upload directory", http.StatusInternalServerError)
			return
		}
		dst, err := os.Create(filepath.Join(uploadDir, name))
		if err != nil {
			errorResponse(w, "Failed to store document", http.StatusInternalServerError)
			return
		}
		_, copyErr := io.Copy(dst, file)
		closeErr := dst.Close()
		if copyErr != nil || closeErr != nil {
			errorResponse(w, "Failed to store document", http.StatusInternalServerError)
			return
		}

		if _, err := matcher.Match(r.Context(), code); err != nil {
			log.Error().Err(err).Str("agency_code", code).Msg("match after upload failed")
			errorResponse(w, "Document stored but matching failed", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Document "+name+" uploaded", nil)
	}
}

// ListDocumentsHandler lists PDFs currently in the drop directory.
func ListDocumentsHandler(uploadDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := os.ReadDir(uploadDir)
		if err != nil && !os.IsNotExist(err) {
			errorResponse(w, "Failed to read upload directory", http.StatusInternalServerError)
			return
		}
		docs := []string{}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".pdf") {
				docs = append(docs, entry.Name())
			}
		}
		successResponse(w, "Documents retrieved", docs)
	}
}

// DeleteDocumentHandler removes one PDF and its recipient row, unlinking the
// agency code entirely.
func DeleteDocumentHandler(recipients *database.Recipients, uploadDir string, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(mux.Vars(r)["filename"])
		code := services.AgencyCodeFromFilename(name)
		if code == "" {
			errorResponse(w, "Not a document filename", http.StatusBadRequest)
			return
		}
		path := filepath.Join(uploadDir, name)
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				errorResponse(w, "Document not found", http.StatusNotFound)
				return
			}
			errorResponse(w, "Failed to delete document", http.StatusInternalServerError)
			return
		}
		if err := recipients.DeleteByAgencyCode(r.Context(), code); err != nil && !errors.Is(err, database.ErrNotFound) {
			log.Warn().Err(err).Str("agency_code", code).Msg("failed to delete recipient with document")
		}
		successResponse(w, "Document "+name+" and its recipient removed", nil)
	}
}

// DeleteAllDocumentsHandler clears the drop directory and the roster.
func DeleteAllDocumentsHandler(recipients *database.Recipients, uploadDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := os.ReadDir(uploadDir)
		if err != nil && !os.IsNotExist(err) {
			errorResponse(w, "Failed to read upload directory", http.StatusInternalServerError)
			return
		}
		removed := 0
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pdf") {
				continue
			}
			if err := os.Remove(filepath.Join(uploadDir, entry.Name())); err == nil {
				removed++
			}
		}
		if err := recipients.Clear(r.Context()); err != nil {
			errorResponse(w, "Documents removed but roster clear failed", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Removed "+strconv.Itoa(removed)+" documents and all recipients", nil)
	}
}

// ListRecipientsHandler returns the roster, filtered by ?state=pending|sent.
func ListRecipientsHandler(recipients *database.Recipients) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			list []database.Recipient
			err  error
		)
		switch r.URL.Query().Get("state") {
		case "pending":
			list, err = recipients.Pending(r.Context())
		case "sent":
			list, err = recipients.Sent(r.Context())
		default:
			list, err = recipients.All(r.Context())
		}
		if err != nil {
			errorResponse(w, "Failed to query recipients", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []database.Recipient{}
		}
		successResponse(w, "Recipients retrieved", list)
	}
}

// DeleteRecipientHandler removes one recipient by agency code.
func DeleteRecipientHandler(recipients *database.Recipients) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["code"]
		err := recipients.DeleteByAgencyCode(r.Context(), code)
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(w, "Recipient not found", http.StatusNotFound)
			return
		}
		if err != nil {
			errorResponse(w, "Failed to delete recipient", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Recipient "+code+" deleted", nil)
	}
}

// ClearRecipientsHandler purges the roster.
func ClearRecipientsHandler(recipients *database.Recipients) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := recipients.Clear(r.Context()); err != nil {
			errorResponse(w, "Failed to clear recipients", http.StatusInternalServerError)
			return
		}
		successResponse(w, "All recipients deleted", nil)
	}
}

// SendHistoryHandler returns the attempt log for one agency code.
func SendHistoryHandler(records *database.SendRecords) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := records.ByAgencyCode(r.Context(), mux.Vars(r)["code"])
		if err != nil {
			errorResponse(w, "Failed to query send history", http.StatusInternalServerError)
			return
		}
		if history == nil {
			history = []database.SendRecord{}
		}
		successResponse(w, "Send history retrieved", history)
	}
}

// SendOneHandler dispatches a single recipient. Transport failures come back
// as a structured error result with HTTP 200; only missing recipients,
// templates or documents are HTTP errors.
func SendOneHandler(dispatcher *services.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := dispatchOptions(r)
		res, err := dispatcher.DispatchOne(r.Context(), mux.Vars(r)["id"], opts)
		switch {
		case errors.Is(err, services.ErrRecipientNotFound):
			errorResponse(w, "Recipient not found", http.StatusNotFound)
			return
		case errors.Is(err, services.ErrTemplateNotFound):
			errorResponse(w, "Template not found", http.StatusNotFound)
			return
		case errors.Is(err, services.ErrDocumentMissing):
			errorResponse(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			errorResponse(w, "Dispatch failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if res.Outcome == database.OutcomeError {
			failureResult(w, res.Message, res)
			return
		}
		successResponse(w, res.Message, res)
	}
}

// DailyCounter reports how many messages went out today, for the daily cap.
type DailyCounter interface {
	DailySendCount(ctx context.Context) (int, error)
}

// SendAllHandler runs one paced batch over the pending set. The request
// blocks for the whole run; observers poll /api/status instead of waiting.
func SendAllHandler(dispatcher *services.Dispatcher, counter DailyCounter, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := counter.DailySendCount(r.Context())
		if err != nil {
			errorResponse(w, "Failed to check daily mail limit", http.StatusInternalServerError)
			return
		}
		if count >= cfg.DailyMailLimit {
			errorResponse(w, "Daily mail limit exceeded", http.StatusForbidden)
			return
		}

		delay := cfg.DefaultDelay
		if raw := r.URL.Query().Get("delay"); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs < 0 {
				errorResponse(w, "Invalid delay; expected seconds", http.StatusBadRequest)
				return
			}
			delay = time.Duration(secs) * time.Second
		}

		summary, err := dispatcher.DispatchAll(r.Context(), delay, dispatchOptions(r))
		switch {
		case errors.Is(err, services.ErrBatchRunning):
			errorResponse(w, "A batch dispatch is already running", http.StatusConflict)
			return
		case errors.Is(err, services.ErrTemplateNotFound):
			errorResponse(w, "Template not found", http.StatusNotFound)
			return
		case err != nil:
			errorResponse(w, "Batch dispatch aborted: "+err.Error(), http.StatusInternalServerError)
			return
		}
		successResponse(w, "Batch dispatch complete", summary)
	}
}

// StatusHandler returns the current batch progress snapshot.
func StatusHandler(progress *services.Progress) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		successResponse(w, "Batch status", progress.Snapshot())
	}
}

// LogsHandler returns recent activity-log entries, newest first.
func LogsHandler(activity *database.ActivityLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		entries, err := activity.Recent(r.Context(), limit)
		if err != nil {
			errorResponse(w, "Failed to query activity log", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []database.ActivityLogEntry{}
		}
		successResponse(w, "Activity log retrieved", entries)
	}
}

// ClearLogsHandler wipes the activity log.
func ClearLogsHandler(activity *database.ActivityLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := activity.Clear(r.Context()); err != nil {
			errorResponse(w, "Failed to clear activity log", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Activity log cleared", nil)
	}
}

// GetDailyLimitHandler reports today's transport sends against the cap.
func GetDailyLimitHandler(records *database.SendRecords, dailyLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := records.DailySendCount(r.Context())
		if err != nil {
			errorResponse(w, "Failed to get daily mail count", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Daily mail limit status retrieved", map[string]int{
			"current_count": count,
			"limit":         dailyLimit,
			"remaining":     dailyLimit - count,
		})
	}
}

// GetSendStatsHandler reports today's attempt counts grouped by outcome.
func GetSendStatsHandler(records *database.SendRecords) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := records.StatusDistribution(r.Context())
		if err != nil {
			errorResponse(w, "Failed to get send statistics", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Send status distribution retrieved", counts)
	}
}

// GetDailySendsHandler reports per-day attempt counts over ?days= days.
func GetDailySendsHandler(records *database.SendRecords) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 7
		if raw := r.URL.Query().Get("days"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				days = parsed
			}
		}
		daily, err := records.DailySendsOverPeriod(r.Context(), days)
		if err != nil {
			errorResponse(w, "Failed to get daily sends", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Daily sends over period retrieved", daily)
	}
}

// PendingDocumentsHandler lists the unmatched-document queue.
func PendingDocumentsHandler(pending *database.PendingDocuments) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := pending.List(r.Context())
		if err != nil {
			errorResponse(w, "Failed to query pending documents", http.StatusInternalServerError)
			return
		}
		if docs == nil {
			docs = []database.PendingDocument{}
		}
		successResponse(w, "Pending documents retrieved", docs)
	}
}

// LinkDocumentHandler records an operator-supplied document link.
func LinkDocumentHandler(matcher *services.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgencyCode string `json:"agency_code"`
			Filename   string `json:"filename"`
		}
		if err := decodeJSON(r, &req); err != nil {
			errorResponse(w, "Invalid request payload", http.StatusBadRequest)
			return
		}
		if req.AgencyCode == "" || req.Filename == "" {
			errorResponse(w, "Fields 'agency_code' and 'filename' are required", http.StatusBadRequest)
			return
		}
		err := matcher.Link(r.Context(), req.AgencyCode, req.Filename)
		switch {
		case errors.Is(err, services.ErrDocumentNotFound):
			errorResponse(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, services.ErrRecipientNotFound):
			errorResponse(w, "Recipient not found", http.StatusNotFound)
			return
		case err != nil:
			errorResponse(w, "Failed to link document", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Document linked to "+req.AgencyCode, nil)
	}
}

func dispatchOptions(r *http.Request) services.DispatchOptions {
	return services.DispatchOptions{
		AsDraft:    strings.EqualFold(r.URL.Query().Get("draft"), "true"),
		TemplateID: r.URL.Query().Get("template"),
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func formFile(r *http.Request, field string) (io.ReadCloser, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	return file, header.Filename, nil
}
