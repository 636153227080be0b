// Package app wires the jsonsqlite server together and hosts the service
// operations it exposes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/jsonsqlite/jsonsqlite/internal/api/http"
	"github.com/jsonsqlite/jsonsqlite/internal/config"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/internal/observability"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/internal/registry"
	"github.com/jsonsqlite/jsonsqlite/internal/server"
	"github.com/jsonsqlite/jsonsqlite/internal/storage"
)

// Operation statistics older than statsWindow are pruned every
// statsPruneInterval.
const (
	statsWindow        = time.Hour
	statsPruneInterval = 5 * time.Minute
)

// App manages the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *registry.Registry
	storage  storage.ObjectStorage
	events   *progress.Bus
	stats    *observability.Stats
	service  *Service
	shutdown *server.ShutdownManager

	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates an App. The configuration is resolved and validated, and its
// directories are created.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "failed to create directories", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Start opens shared resources and starts serving HTTP.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.NewStateError(errors.CodeConnectionClosed, "app is already running")
	}

	if err := a.initSharedResources(ctx); err != nil {
		return err
	}
	if err := a.startHTTP(); err != nil {
		a.shutdown.Shutdown(context.Background(), "start failed")
		a.wg.Wait()
		return err
	}

	a.running = true
	a.logger.Info("jsonsqlite started",
		"addr", a.listener.Addr().String(),
		"databases", a.cfg.Database.Dir,
		"storage", a.cfg.Storage.Type)
	return nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error
	a.storage, err = storage.New(ctx, a.cfg.StorageConfig())
	if err != nil {
		return errors.WithStage(err, "initStorage")
	}
	a.logger.Info("storage initialized", "type", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == storage.BackendS3 {
		a.logger.Info("s3 config",
			"bucket", a.cfg.Storage.S3.Bucket,
			"region", a.cfg.Storage.S3.Region,
			"endpoint", a.cfg.Storage.S3.Endpoint)
	}

	a.registry = registry.New(a.cfg.RegistryConfig())
	a.events = progress.NewBus(0)
	a.stats = observability.NewStats(statsWindow)
	a.service = NewService(ServiceOptions{
		Registry:             a.registry,
		Storage:              a.storage,
		Sink:                 a.events,
		Stats:                a.stats,
		Logger:               a.logger,
		DefaultMode:          a.cfg.Export.Mode,
		LastModifiedTriggers: a.cfg.Import.LastModifiedTriggers,
	})

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		DrainTimeout:    a.cfg.HTTP.ShutdownTimeout / 2,
		Logger:          a.logger,
	})
	a.shutdown.OnShutdownStart(a.events.Close)

	stopPrune := make(chan struct{})
	a.shutdown.OnShutdownStart(func() { close(stopPrune) })
	a.wg.Add(1)
	go a.pruneStats(stopPrune)
	a.shutdown.RegisterCloser("databases", server.CloserFunc(func() error {
		return a.service.Close(context.Background())
	}))
	return nil
}

func (a *App) pruneStats(stop <-chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(statsPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.stats.Prune()
		}
	}
}

func (a *App) startHTTP() error {
	handler := httpapi.NewHandler(httpapi.HandlerConfig{
		Service:      a.service,
		Events:       a.events,
		Stats:        a.stats,
		Logger:       a.logger,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	})

	a.httpServer = &http.Server{
		Handler:      server.ShutdownMiddleware(a.shutdown)(handler),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig,
			fmt.Sprintf("failed to listen on %s", a.cfg.HTTP.Addr), err)
	}
	a.listener = ln
	a.shutdown.RegisterCloser("http", server.HTTPServerCloser{
		Server:  a.httpServer,
		Timeout: a.cfg.HTTP.ShutdownTimeout,
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the HTTP server listens on, or "" before Start.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Service returns the service the server exposes. It is nil before Start.
func (a *App) Service() *Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.service
}

// Stop shuts the server down gracefully and closes every open database.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}

// WaitForShutdown blocks until a termination signal arrives or ctx is done,
// then shuts down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.wg.Wait()
	return err
}
