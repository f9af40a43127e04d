package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(store *fakeStore, uploadDir string) *Matcher {
	return NewMatcher(store, store, activityStore{store}, uploadDir, zerolog.Nop())
}

func TestAgencyCodeFromFilename(t *testing.T) {
	assert.Equal(t, "A1", AgencyCodeFromFilename("A1.pdf"))
	assert.Equal(t, "A1", AgencyCodeFromFilename("/drop/dir/A1.pdf"))
	assert.Equal(t, "", AgencyCodeFromFilename("A1.txt"))
	assert.Equal(t, "", AgencyCodeFromFilename("A1.PDF"), "matching is case-sensitive")
}

func TestMatchLinksKnownRecipient(t *testing.T) {
	store := newFakeStore()
	store.addRecipient("A1", "a@x.com")
	m := newTestMatcher(store, t.TempDir())

	linked, err := m.Match(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, linked)

	r, err := store.ByAgencyCode(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, r.HasDocument)
	assert.Empty(t, store.pendingDocs)
}

func TestMatchQueuesUnknownCode(t *testing.T) {
	store := newFakeStore()
	m := newTestMatcher(store, t.TempDir())

	linked, err := m.Match(context.Background(), "ZZ")
	require.NoError(t, err)
	assert.False(t, linked)
	require.Len(t, store.pendingDocs, 1)
	assert.Equal(t, "ZZ", store.pendingDocs[0].AgencyCode)
	assert.False(t, store.pendingDocs[0].Processed)

	// Matching the same code again must not grow the queue.
	_, err = m.Match(context.Background(), "ZZ")
	require.NoError(t, err)
	assert.Len(t, store.pendingDocs, 1)
}

func TestScanIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addRecipient("A1", "a@x.com")
	dir := t.TempDir()
	writeDocument(t, dir, "A1")
	writeDocument(t, dir, "ZZ")
	m := newTestMatcher(store, dir)

	n, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.pendingDocs, 1)

	n, err = m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, store.pendingDocs, 1, "a repeat scan with no new files adds nothing")
}

func TestManualLink(t *testing.T) {
	store := newFakeStore()
	store.addRecipient("A1", "a@x.com")
	dir := t.TempDir()
	m := newTestMatcher(store, dir)

	err := m.Link(context.Background(), "A1", "A1.pdf")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	writeDocument(t, dir, "A1")
	require.NoError(t, m.Link(context.Background(), "A1", "A1.pdf"))

	r, err := store.ByAgencyCode(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, r.HasDocument)

	err = m.Link(context.Background(), "QQ", "A1.pdf")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestReconcileImportResolvesQueuedDocuments(t *testing.T) {
	store := newFakeStore()
	m := newTestMatcher(store, t.TempDir())

	// Document arrived before its recipient.
	_, err := m.Match(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, store.pendingDocs, 1)

	store.addRecipient("A1", "a@x.com")
	resolved, err := m.ReconcileImport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	r, err := store.ByAgencyCode(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, r.HasDocument)
	assert.True(t, store.pendingDocs[0].Processed)
	require.NotNil(t, store.pendingDocs[0].ProcessedAt)
}

func TestReconcileImportRelinksDocumentsMatchedBeforeImport(t *testing.T) {
	store := newFakeStore()
	dir := t.TempDir()
	writeDocument(t, dir, "A1")
	m := newTestMatcher(store, dir)

	// Document matched while the recipient existed: linked directly, no
	// queue entry.
	store.addRecipient("A1", "a@x.com")
	linked, err := m.Match(context.Background(), "A1")
	require.NoError(t, err)
	require.True(t, linked)
	require.Empty(t, store.pendingDocs)

	// A roster import replaces every row, wiping the link.
	store.removeRecipient("A1")
	store.addRecipient("A1", "a@x.com")

	resolved, err := m.ReconcileImport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	r, err := store.ByAgencyCode(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, r.HasDocument, "document still on disk must be relinked after import")
}
