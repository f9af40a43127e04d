package services

import (
	"context"
	"time"

	"taxmailer/database"
)

// The services consume narrow store interfaces so the engine can be exercised
// against in-memory fakes; the database package provides the real
// implementations.

type RecipientStore interface {
	ByID(ctx context.Context, id string) (*database.Recipient, error)
	ByAgencyCode(ctx context.Context, code string) (*database.Recipient, error)
	Pending(ctx context.Context) ([]database.Recipient, error)
	SetDocumentLinked(ctx context.Context, code string, linked bool) error
	MarkSent(ctx context.Context, code string, at time.Time) error
}

type SendRecordStore interface {
	Append(ctx context.Context, rec database.SendRecord) error
}

type TemplateStore interface {
	ByID(ctx context.Context, id string) (*database.EmailTemplate, error)
	Default(ctx context.Context) (*database.EmailTemplate, error)
}

type ActivityLogStore interface {
	Append(ctx context.Context, agencyCode, action, status, message string) error
}

type PendingDocumentStore interface {
	Enqueue(ctx context.Context, code string) (bool, error)
	Unprocessed(ctx context.Context) ([]database.PendingDocument, error)
	MarkProcessed(ctx context.Context, code string) error
}
