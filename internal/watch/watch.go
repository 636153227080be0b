// Package watch reports documents dropped into a directory.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jsonsqlite/jsonsqlite/internal/docio"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

// Handler processes one document file. Errors are logged and do not stop
// the watcher.
type Handler func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	// Dir is the directory to watch. Required.
	Dir string

	// Settle is how long a file must stay unchanged before it is handled
	// (default: 500ms).
	Settle time.Duration

	// Existing also handles documents already in Dir when Run starts.
	Existing bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher calls a Handler for every document file created or rewritten in
// a directory. Documents are *.json files or compressed *.json.sz files.
type Watcher struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New creates a Watcher.
func New(cfg Config, handler Handler) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "watch: directory is required")
	}
	if handler == nil {
		return nil, errors.New(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "watch: handler is required")
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "watch", "dir", cfg.Dir),
		pending: make(map[string]*time.Timer),
	}, nil
}

// IsDocument reports whether path names a document file.
func IsDocument(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".json") || strings.HasSuffix(base, docio.Extension)
}

// Run watches until ctx is done. Handlers still running when ctx ends are
// waited for.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.ErrCategoryInternal, errors.CodeUnexpected, "watch: failed to create watcher", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "watch: failed to watch "+w.cfg.Dir, err)
	}
	w.logger.Info("watching for documents")

	if w.cfg.Existing {
		if err := w.scheduleExisting(ctx); err != nil {
			return err
		}
	}

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsDocument(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "watch: failed to read "+w.cfg.Dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && IsDocument(e.Name()) {
			w.schedule(ctx, filepath.Join(w.cfg.Dir, e.Name()))
		}
	}
	return nil
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.cfg.Settle)
		return
	}
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.cfg.Settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, path)
	})
	w.pending[path] = timer
}

func (w *Watcher) handle(ctx context.Context, path string) {
	start := time.Now()
	if err := w.handler(ctx, path); err != nil {
		w.logger.Error("document failed", "file", filepath.Base(path), "error", err)
		return
	}
	w.logger.Info("document handled", "file", filepath.Base(path), "duration", time.Since(start))
}

// stop cancels pending timers and waits for running handlers.
func (w *Watcher) stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
