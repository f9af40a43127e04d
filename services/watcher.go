package services

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	watcherQueueSize   = 256
	restartBackoffBase = time.Second
	restartBackoffMax  = 30 * time.Second
)

// DocumentMatcher is the watcher's view of the matcher.
type DocumentMatcher interface {
	Match(ctx context.Context, code string) (bool, error)
	Scan(ctx context.Context) (int, error)
}

// Watcher observes the upload directory (non-recursive) and feeds arriving
// document codes to the matcher through a buffered queue, so the fsnotify
// event loop never blocks on store access. Events missed while the process
// was down are recovered by the startup scan.
type Watcher struct {
	dir     string
	matcher DocumentMatcher
	log     zerolog.Logger
}

func NewWatcher(dir string, matcher DocumentMatcher, log zerolog.Logger) *Watcher {
	return &Watcher{dir: dir, matcher: matcher, log: log}
}

// Run blocks until ctx is canceled. A broken watcher is recreated with a
// jittered backoff.
func (w *Watcher) Run(ctx context.Context) error {
	codes := make(chan string, watcherQueueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.consume(ctx, codes)
	}()
	defer wg.Wait()

	// Startup reconciliation: pick up documents dropped while not watching.
	if n, err := w.matcher.Scan(ctx); err != nil {
		w.log.Warn().Err(err).Msg("startup scan failed")
	} else {
		w.log.Info().Int("linked", n).Msg("startup scan complete")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := restartBackoffBase
	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			err = fw.Add(w.dir)
			if err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.log.Warn().Err(err).Str("dir", w.dir).Msg("watch init failed")
			if !sleepCtx(ctx, jitter(rng, backoff)) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = restartBackoffBase
		w.log.Info().Str("dir", w.dir).Msg("watching for documents")

		if done := w.loop(ctx, fw, codes); done {
			_ = fw.Close()
			return nil
		}
		_ = fw.Close()

		w.log.Warn().Str("dir", w.dir).Msg("watcher stopped; restarting")
		if !sleepCtx(ctx, jitter(rng, backoff)) {
			return nil
		}
		backoff = nextBackoff(backoff)
	}
}

// loop runs one watcher session. It returns true when ctx ended, false when
// the watcher broke and should be recreated.
func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, codes chan<- string) bool {
	for {
		select {
		case <-ctx.Done():
			return true

		case ev, ok := <-fw.Events:
			if !ok {
				return false
			}
			// Moves into the directory arrive as Create; Rename fires for
			// files leaving it, which must not be treated as arrivals.
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			code := AgencyCodeFromFilename(ev.Name)
			if code == "" {
				continue
			}
			select {
			case codes <- code:
			default:
				w.log.Warn().Str("agency_code", code).Msg("match queue full; dropping event")
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return false
			}
			if err == nil {
				continue
			}
			w.log.Warn().Err(err).Str("dir", w.dir).Msg("watch error")
			if strings.Contains(strings.ToLower(err.Error()), "closed") {
				return false
			}
		}
	}
}

func (w *Watcher) consume(ctx context.Context, codes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case code := <-codes:
			if _, err := w.matcher.Match(ctx, code); err != nil {
				w.log.Error().Err(err).Str("agency_code", code).Msg("match failed")
			}
		}
	}
}

func jitter(rng *rand.Rand, d time.Duration) time.Duration {
	return d + time.Duration(rng.Int63n(int64(d/2)+1))
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > restartBackoffMax {
		return restartBackoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
