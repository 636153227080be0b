// Package registry owns the open database connections, keyed by database
// name. A name maps to one file <dir>/<name><suffix> and one *sql.DB
// limited to a single connection. Export and import take the database
// exclusively through Acquire.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

// Config holds configuration for the registry.
type Config struct {
	// Directory holds the database files
	Directory string

	// FileSuffix is appended to the database name (default: "SQLite.db")
	FileSuffix string

	// BusyTimeout is passed to SQLite as _busy_timeout (default: 5s)
	BusyTimeout time.Duration

	// DisableForeignKeys turns off foreign key enforcement, which is on by
	// default
	DisableForeignKeys bool
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Directory:   "./data/databases",
		FileSuffix:  "SQLite.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Registry maps database names to owned connections.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	closed  bool
}

type entry struct {
	name     string
	path     string
	db       *sql.DB
	lock     chan struct{} // capacity 1; held while acquired
	openedAt time.Time
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.Directory == "" {
		cfg.Directory = def.Directory
	}
	if cfg.FileSuffix == "" {
		cfg.FileSuffix = def.FileSuffix
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = def.BusyTimeout
	}
	return &Registry{cfg: cfg, entries: make(map[string]*entry)}
}

// Path returns the file backing database name.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.cfg.Directory, name+r.cfg.FileSuffix)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return errors.NewValidationError(errors.CodeInvalidDocument, fmt.Sprintf("invalid database name %q", name))
	}
	return nil
}

// Open opens database name, creating its file if needed. Opening an
// already open database is a no-op.
func (r *Registry) Open(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.NewStateError(errors.CodeConnectionClosed, "registry: registry is closed")
	}
	if _, ok := r.entries[name]; ok {
		return nil
	}

	if err := os.MkdirAll(r.cfg.Directory, 0755); err != nil {
		return errors.Wrap(errors.ErrCategoryInternal, errors.CodeUnexpected, "registry: failed to create database directory", err)
	}
	path := r.Path(name)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=%t", path, r.cfg.BusyTimeout.Milliseconds(), !r.cfg.DisableForeignKeys)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("registry: failed to open %q", name), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("registry: failed to ping %q", name), err)
	}

	r.entries[name] = &entry{
		name:     name,
		path:     path,
		db:       db,
		lock:     make(chan struct{}, 1),
		openedAt: time.Now(),
	}
	return nil
}

// IsOpen reports whether database name is open.
func (r *Registry) IsOpen(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Acquire takes exclusive use of database name until release is called.
// It waits for a concurrent holder to release, or for ctx to end.
func (r *Registry) Acquire(ctx context.Context, name string) (db *sql.DB, release func(), err error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, nil, notOpen(name)
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, errors.Wrap(errors.ErrCategoryState, errors.CodeConnectionClosed, fmt.Sprintf("registry: waiting for %q", name), ctx.Err())
	}

	// the entry may have been closed while we waited
	r.mu.Lock()
	current, ok := r.entries[name]
	r.mu.Unlock()
	if !ok || current != e {
		<-e.lock
		return nil, nil, notOpen(name)
	}

	var once sync.Once
	return e.db, func() { once.Do(func() { <-e.lock }) }, nil
}

func notOpen(name string) *errors.Error {
	return errors.NewStateError(errors.CodeDatabaseNotOpen, fmt.Sprintf("no available connection for database %q", name))
}

// Close waits for any holder of database name to release it, then closes
// and removes it.
func (r *Registry) Close(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return notOpen(name)
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCategoryState, errors.CodeConnectionClosed, fmt.Sprintf("registry: waiting to close %q", name), ctx.Err())
	}
	defer func() { <-e.lock }()

	r.mu.Lock()
	if r.entries[name] == e {
		delete(r.entries, name)
	}
	r.mu.Unlock()

	if err := e.db.Close(); err != nil {
		return errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("registry: failed to close %q", name), err)
	}
	return nil
}

// CloseAll closes every database and rejects further opens.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := r.Close(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Names returns the open database names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
