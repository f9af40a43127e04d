package services

import (
	"sync"
	"sync/atomic"
)

// BatchError is one per-recipient failure collected during a batch run.
type BatchError struct {
	AgencyCode string `json:"agency_code"`
	Email      string `json:"email"`
	Error      string `json:"error"`
}

// Batch is the snapshot of an in-flight (or last finished) batch dispatch.
type Batch struct {
	IsSending     bool         `json:"is_sending"`
	Total         int          `json:"total"`
	Current       int          `json:"current"`
	CurrentAgency string       `json:"current_agency"`
	Errors        []BatchError `json:"errors"`
}

// Progress owns the batch state. Exactly one batch may hold the claim at a
// time; observers poll Snapshot, there is no push mechanism.
type Progress struct {
	running atomic.Bool

	mu    sync.Mutex
	batch Batch
}

func NewProgress() *Progress {
	return &Progress{}
}

// Begin atomically claims the batch slot and resets the snapshot. It returns
// ErrBatchRunning when another batch holds the claim.
func (p *Progress) Begin() error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrBatchRunning
	}
	p.mu.Lock()
	p.batch = Batch{IsSending: true}
	p.mu.Unlock()
	return nil
}

// SetTotal records the batch size once the pending set is known.
func (p *Progress) SetTotal(total int) {
	p.mu.Lock()
	p.batch.Total = total
	p.mu.Unlock()
}

// Advance records the position before each send attempt.
func (p *Progress) Advance(current int, agencyCode string) {
	p.mu.Lock()
	p.batch.Current = current
	p.batch.CurrentAgency = agencyCode
	p.mu.Unlock()
}

// Fail appends one per-recipient failure, preserving order.
func (p *Progress) Fail(agencyCode, email, message string) {
	p.mu.Lock()
	p.batch.Errors = append(p.batch.Errors, BatchError{
		AgencyCode: agencyCode,
		Email:      email,
		Error:      message,
	})
	p.mu.Unlock()
}

// Finish clears the sending flag and releases the claim. The error list stays
// readable until the next Begin.
func (p *Progress) Finish() {
	p.mu.Lock()
	p.batch.IsSending = false
	p.mu.Unlock()
	p.running.Store(false)
}

// Snapshot returns a copy safe for concurrent readers.
func (p *Progress) Snapshot() Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.batch
	if len(p.batch.Errors) > 0 {
		cp.Errors = append([]BatchError(nil), p.batch.Errors...)
	}
	return cp
}
