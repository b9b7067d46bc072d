package builder

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/logging"
)

const DefaultDebounce = 250 * time.Millisecond

// ApplyFunc receives a catalog that changed on disk.
type ApplyFunc func(*mapsync.Catalog) error

// Watcher reloads a catalog file when it changes and hands the new catalog
// to an ApplyFunc. The directory is watched rather than the file so editors
// that replace the file on save are followed.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	file        string
	cache       *Cache
	apply       ApplyFunc
	debounceDur time.Duration
	pendingAt   time.Time
	pending     bool
	updates     chan Update
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	log         zerolog.Logger
}

// NewWatcher creates a watcher for file. cache may be nil.
func NewWatcher(file string, cache *Cache, apply ApplyFunc) (*Watcher, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Watcher{
		watcher:     w,
		file:        abs,
		cache:       cache,
		apply:       apply,
		debounceDur: DefaultDebounce,
		updates:     make(chan Update, 8),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         logging.Component("watch"),
	}, nil
}

// SetDebounce sets how long the file must stay quiet before it is reloaded.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounceDur = d
	w.mu.Unlock()
}

// Updates delivers the outcome of every reload. Updates are dropped when
// nobody reads them.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

// Start primes the cache with the current catalog and begins watching.
// It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if _, up := w.cache.Catalog(w.file); up.Err != nil {
		w.log.Warn().Err(up.Err).Str("catalog", w.file).Msg("initial catalog parse failed")
	}
	if err := w.watcher.Add(filepath.Dir(w.file)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.log.Info().Str("catalog", w.file).Msg("watching catalog")

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.log.Error().Err(err).Msg("closing watcher")
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watch error")
		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.file {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	w.pending = true
	w.pendingAt = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	if !w.pending || time.Since(w.pendingAt) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	w.reload()
}

func (w *Watcher) reload() {
	cat, up := w.cache.Catalog(w.file)
	switch {
	case up.Err != nil:
		w.log.Error().Err(up.Err).Str("catalog", w.file).Msg("catalog reload failed")
	case up.Updated && w.apply != nil:
		if err := w.apply(cat); err != nil {
			w.log.Error().Err(err).Str("catalog", w.file).Msg("applying catalog")
			up.Err = err
		}
	case !up.Updated:
		return
	}

	select {
	case w.updates <- up:
	default:
	}
}
