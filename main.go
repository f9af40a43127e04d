package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"taxmailer/config"
	"taxmailer/database"
	"taxmailer/handlers"
	"taxmailer/logging"
	"taxmailer/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("Error loading configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	migrationsPath := filepath.Join(".", "database", "migrations")
	if err := database.ApplyMigrations(cfg.DatabaseURL, migrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database migrations")
	}
	log.Info().Msg("database migrations applied")

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("failed to create upload directory")
	}

	recipients := database.NewRecipients(db)
	records := database.NewSendRecords(db)
	templates := database.NewTemplates(db)
	pendingDocs := database.NewPendingDocuments(db)
	activity := database.NewActivityLog(db)

	transport, err := services.NewSMTPTransport(cfg, logging.WithComponent(log, "transport"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure mail transport")
	}

	progress := services.NewProgress()
	dispatcher := services.NewDispatcher(
		recipients, records, templates, activity,
		transport, progress,
		cfg.UploadDir, cfg.SMTPTimeout,
		logging.WithComponent(log, "dispatcher"),
	)
	matcher := services.NewMatcher(
		recipients, pendingDocs, activity,
		cfg.UploadDir,
		logging.WithComponent(log, "matcher"),
	)
	watcher := services.NewWatcher(cfg.UploadDir, matcher, logging.WithComponent(log, "watcher"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("watcher stopped with error")
		}
	}()

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	hlog := logging.WithComponent(log, "http")
	api.HandleFunc("/import", handlers.ImportHandler(recipients, matcher, hlog)).Methods("POST")

	api.HandleFunc("/documents", handlers.UploadDocumentHandler(matcher, cfg.UploadDir, hlog)).Methods("POST")
	api.HandleFunc("/documents", handlers.ListDocumentsHandler(cfg.UploadDir)).Methods("GET")
	api.HandleFunc("/documents", handlers.DeleteAllDocumentsHandler(recipients, cfg.UploadDir)).Methods("DELETE")
	api.HandleFunc("/documents/{filename}", handlers.DeleteDocumentHandler(recipients, cfg.UploadDir, hlog)).Methods("DELETE")

	api.HandleFunc("/recipients", handlers.ListRecipientsHandler(recipients)).Methods("GET")
	api.HandleFunc("/recipients", handlers.ClearRecipientsHandler(recipients)).Methods("DELETE")
	api.HandleFunc("/recipients/{code}", handlers.DeleteRecipientHandler(recipients)).Methods("DELETE")
	api.HandleFunc("/recipients/{code}/history", handlers.SendHistoryHandler(records)).Methods("GET")
	api.HandleFunc("/recipients/{id}/send", handlers.SendOneHandler(dispatcher)).Methods("POST")

	api.HandleFunc("/send-all", handlers.SendAllHandler(dispatcher, records, cfg)).Methods("POST")
	api.HandleFunc("/status", handlers.StatusHandler(progress)).Methods("GET")

	api.HandleFunc("/logs", handlers.LogsHandler(activity)).Methods("GET")
	api.HandleFunc("/logs", handlers.ClearLogsHandler(activity)).Methods("DELETE")
	api.HandleFunc("/limit", handlers.GetDailyLimitHandler(records, cfg.DailyMailLimit)).Methods("GET")
	api.HandleFunc("/stats", handlers.GetSendStatsHandler(records)).Methods("GET")
	api.HandleFunc("/daily-sends", handlers.GetDailySendsHandler(records)).Methods("GET")

	api.HandleFunc("/templates", handlers.ListTemplatesHandler(templates)).Methods("GET")
	api.HandleFunc("/templates", handlers.CreateTemplateHandler(templates)).Methods("POST")
	api.HandleFunc("/templates/{id}", handlers.GetTemplateHandler(templates)).Methods("GET")
	api.HandleFunc("/templates/{id}", handlers.UpdateTemplateHandler(templates)).Methods("PUT")
	api.HandleFunc("/templates/{id}", handlers.DeleteTemplateHandler(templates)).Methods("DELETE")

	api.HandleFunc("/pending-documents", handlers.PendingDocumentsHandler(pendingDocs)).Methods("GET")
	api.HandleFunc("/pending-documents/link", handlers.LinkDocumentHandler(matcher)).Methods("POST")

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
