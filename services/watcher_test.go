package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMatcher captures which codes the watcher fed it.
type recordingMatcher struct {
	mu      sync.Mutex
	matched []string
	scans   int
}

func (m *recordingMatcher) Match(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched = append(m.matched, code)
	return true, nil
}

func (m *recordingMatcher) Scan(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	return 0, nil
}

func (m *recordingMatcher) matchedCodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.matched...)
}

func TestWatcherScansOnStartup(t *testing.T) {
	dir := t.TempDir()
	m := &recordingMatcher{}
	w := NewWatcher(dir, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.scans == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatcherMatchesArrivingDocuments(t *testing.T) {
	dir := t.TempDir()
	m := &recordingMatcher{}
	w := NewWatcher(dir, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watcher time to register before dropping the file.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "A1.pdf"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		codes := m.matchedCodes()
		return len(codes) >= 1 && codes[0] == "A1"
	}, 3*time.Second, 20*time.Millisecond)

	assert.NotContains(t, m.matchedCodes(), "ignored")
}

func TestWatcherIgnoresDocumentsLeavingDirectory(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B7.pdf"), []byte("%PDF-1.4"), 0o644))

	m := &recordingMatcher{}
	w := NewWatcher(dir, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)

	// Moving a document out of the directory is not an arrival.
	require.NoError(t, os.Rename(filepath.Join(dir, "B7.pdf"), filepath.Join(other, "B7.pdf")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "C2.pdf"), []byte("%PDF-1.4"), 0o644))

	require.Eventually(t, func() bool {
		codes := m.matchedCodes()
		return len(codes) >= 1 && codes[len(codes)-1] == "C2"
	}, 3*time.Second, 20*time.Millisecond)

	assert.NotContains(t, m.matchedCodes(), "B7")
}
