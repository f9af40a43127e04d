package services

import "errors"

var (
	// ErrBatchRunning is returned when a batch dispatch is launched while
	// another one still holds the claim.
	ErrBatchRunning = errors.New("a batch dispatch is already running")

	// ErrRecipientNotFound is returned by dispatch and link operations for
	// unknown recipients.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrTemplateNotFound is returned when an explicitly requested template
	// does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrDocumentMissing is returned by single-recipient dispatch when the
	// recipient's PDF is absent from the upload directory. The transport is
	// never invoked in that case.
	ErrDocumentMissing = errors.New("document not found for recipient")

	// ErrDocumentNotFound is returned by manual linking when the named file
	// is not in the upload directory.
	ErrDocumentNotFound = errors.New("document not found in upload directory")
)

// TransportError wraps a mail transport failure. It is recorded in the send
// log and reported as a structured result, never raised past the dispatcher.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string {
	return "mail transport: " + e.Reason
}
