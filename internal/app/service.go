package app

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jsonsqlite/jsonsqlite/internal/catalog"
	"github.com/jsonsqlite/jsonsqlite/internal/docio"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/internal/exporter"
	"github.com/jsonsqlite/jsonsqlite/internal/importer"
	"github.com/jsonsqlite/jsonsqlite/internal/observability"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/internal/registry"
	"github.com/jsonsqlite/jsonsqlite/internal/storage"
	"github.com/jsonsqlite/jsonsqlite/internal/validate"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Registry owns the database connections. Required.
	Registry *registry.Registry

	// Storage keeps saved documents. SaveDocument and LoadDocument fail
	// when it is nil.
	Storage storage.ObjectStorage

	// Sink receives progress events from every export and import.
	Sink progress.Sink

	// Stats records export, import, save and load runs when set.
	Stats *observability.Stats

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// DefaultMode is used when ExportToJSON is called without a mode.
	DefaultMode types.Mode

	// LastModifiedTriggers is passed to the importer.
	LastModifiedTriggers bool

	// Now defaults to time.Now.
	Now func() time.Time
}

type documentImporter interface {
	Import(ctx context.Context, conn importer.Conn, doc *types.Document) (importer.Result, error)
}

// Service hosts the export and import engines over named databases.
// Every operation takes exclusive use of its database for its duration.
type Service struct {
	registry    *registry.Registry
	storage     storage.ObjectStorage
	sink        progress.Sink
	stats       *observability.Stats
	logger      *slog.Logger
	defaultMode types.Mode
	now         func() time.Time
	importer    documentImporter
}

// NewService creates a Service.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "app")

	mode := opts.DefaultMode
	if mode == "" {
		mode = types.ModeFull
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sink := progress.Multi(progress.OrNop(opts.Sink), progress.LogSink{Logger: logger})

	return &Service{
		registry:    opts.Registry,
		storage:     opts.Storage,
		sink:        sink,
		stats:       opts.Stats,
		logger:      logger,
		defaultMode: mode,
		now:         now,
		importer: importer.New(importer.Options{
			Sink:                 sink,
			LastModifiedTriggers: opts.LastModifiedTriggers,
		}),
	}
}

// OpenDatabase opens database name, creating its file if needed.
func (s *Service) OpenDatabase(ctx context.Context, name string) error {
	if err := s.registry.Open(ctx, name); err != nil {
		return errors.WithStage(err, "OpenDatabase")
	}
	s.logger.Info("database opened", "database", name, "path", s.registry.Path(name))
	return nil
}

// CloseDatabase closes database name.
func (s *Service) CloseDatabase(ctx context.Context, name string) error {
	if err := s.registry.Close(ctx, name); err != nil {
		return errors.WithStage(err, "CloseDatabase")
	}
	s.logger.Info("database closed", "database", name)
	return nil
}

// Databases lists the open databases.
func (s *Service) Databases() []string {
	return s.registry.Names()
}

// withDatabase runs fn with exclusive use of the open database name.
func (s *Service) withDatabase(ctx context.Context, name string, fn func(db *sql.DB) error) error {
	db, release, err := s.registry.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()
	return fn(db)
}

// ExportToJSON exports the open database name. An empty mode uses the
// configured default. The document version is the database's
// user_version.
func (s *Service) ExportToJSON(ctx context.Context, name string, mode types.Mode) (*types.Document, error) {
	if mode == "" {
		mode = s.defaultMode
	}
	log := s.logger.With("op", uuid.NewString(), "database", name, "mode", mode)
	start := time.Now()

	var doc *types.Document
	err := s.withDatabase(ctx, name, func(db *sql.DB) error {
		version, err := catalog.UserVersion(ctx, db)
		if err != nil {
			return err
		}
		tmpl := types.Document{Database: name, Version: version, Mode: mode}
		doc, err = exporter.New(s.sink).Export(ctx, db, tmpl)
		return err
	})
	if err == nil && !documentShaped(doc) {
		err = errors.NewSentinelError("return object is not a JsonSQLite object")
	}
	s.record(name, observability.OpExport, start, 0, err)
	if err != nil {
		log.Warn("export failed", "error", err)
		return nil, errors.WithStage(err, "ExportToJSON")
	}

	log.Info("export completed", "tables", len(doc.Tables), "views", len(doc.Views), "duration", time.Since(start))
	return doc, nil
}

// documentShaped reports whether doc carries the header fields of a
// document.
func documentShaped(doc *types.Document) bool {
	return doc != nil && doc.Database != "" && doc.Mode.Valid()
}

// ImportFromJSON validates doc and imports it into the database it names.
// A database that is not open is opened for the import and closed after.
func (s *Service) ImportFromJSON(ctx context.Context, doc *types.Document) (importer.Result, error) {
	failed := importer.Result{Changes: importer.FailedChanges}
	if err := validate.Document(doc); err != nil {
		return failed, errors.WithStage(err, "ImportFromJSON")
	}
	name := doc.Database
	log := s.logger.With("op", uuid.NewString(), "database", name, "mode", doc.Mode)
	start := time.Now()

	if !s.registry.IsOpen(name) {
		if err := s.registry.Open(ctx, name); err != nil {
			return failed, errors.WithStage(err, "ImportFromJSON")
		}
		defer func() {
			if err := s.registry.Close(context.Background(), name); err != nil {
				log.Warn("failed to close database after import", "error", err)
			}
		}()
	}

	var res importer.Result
	err := s.withDatabase(ctx, name, func(db *sql.DB) error {
		var err error
		res, err = s.importer.Import(ctx, db, doc)
		return err
	})
	if err == nil && res.Failed() {
		err = errors.NewSentinelError("import JsonObject not successful")
	}
	s.record(name, observability.OpImport, start, res.Changes, err)
	if err != nil {
		log.Warn("import failed", "error", err)
		return failed, errors.WithStage(err, "ImportFromJSON")
	}

	log.Info("import completed", "changes", res.Changes, "tables", len(doc.Tables), "duration", time.Since(start))
	return res, nil
}

// IsJSONValid reports whether raw is a valid document. When it is not,
// reason explains why.
func (s *Service) IsJSONValid(raw []byte) (valid bool, reason error) {
	doc, err := docio.Decode(raw)
	if err != nil {
		return false, err
	}
	if err := validate.Document(doc); err != nil {
		return false, err
	}
	return true, nil
}

// CreateSyncTable creates the sync table in database name, seeded with the
// current time, and returns the number of changes. An existing table is
// left alone and reports zero changes.
func (s *Service) CreateSyncTable(ctx context.Context, name string) (int64, error) {
	var changes int64
	err := s.withDatabase(ctx, name, func(db *sql.DB) error {
		var err error
		changes, err = catalog.CreateSyncTable(ctx, db, s.now())
		return err
	})
	if err != nil {
		return 0, errors.WithStage(err, "CreateSyncTable")
	}
	return changes, nil
}

// SetSyncDate stores epoch as the last sync time of database name.
func (s *Service) SetSyncDate(ctx context.Context, name string, epoch int64) error {
	if epoch <= 0 {
		return errors.WithStage(errors.NewValidationError(errors.CodeInvalidDocument,
			fmt.Sprintf("sync date must be a positive epoch, got %d", epoch)), "SetSyncDate")
	}
	err := s.withDatabase(ctx, name, func(db *sql.DB) error {
		return catalog.SetSyncDate(ctx, db, epoch)
	})
	if err != nil {
		return errors.WithStage(err, "SetSyncDate")
	}
	s.logger.Info("sync date set", "database", name, "sync_date", epoch)
	return nil
}

// GetSyncDate returns the last sync time of database name, or
// types.NoSyncDate.
func (s *Service) GetSyncDate(ctx context.Context, name string) (int64, error) {
	var epoch int64
	err := s.withDatabase(ctx, name, func(db *sql.DB) error {
		var err error
		epoch, err = catalog.SyncDate(ctx, db)
		return err
	})
	if err != nil {
		return types.NoSyncDate, errors.WithStage(err, "GetSyncDate")
	}
	return epoch, nil
}

// SaveDocument stores doc under its database name, compressed, with its
// fingerprint next to it.
func (s *Service) SaveDocument(ctx context.Context, doc *types.Document) (docio.Stored, error) {
	if s.storage == nil {
		return docio.Stored{}, errors.WithStage(noStorage(), "SaveDocument")
	}
	if err := validate.Document(doc); err != nil {
		return docio.Stored{}, errors.WithStage(err, "SaveDocument")
	}

	start := time.Now()
	stored, err := s.saveDocument(ctx, doc)
	s.record(doc.Database, observability.OpSave, start, 0, err)
	if err != nil {
		return docio.Stored{}, errors.WithStage(err, "SaveDocument")
	}
	s.logger.Info("document saved", "database", doc.Database, "key", stored.Key, "bytes", stored.Bytes, "fingerprint", stored.Fingerprint)
	return stored, nil
}

func (s *Service) saveDocument(ctx context.Context, doc *types.Document) (docio.Stored, error) {
	payload, fp, err := docio.Pack(doc)
	if err != nil {
		return docio.Stored{}, err
	}
	key := docio.DocumentKey(doc.Database)
	if err := s.storage.Put(ctx, key, payload); err != nil {
		return docio.Stored{}, err
	}
	if err := s.storage.Put(ctx, docio.FingerprintKey(doc.Database), []byte(fp)); err != nil {
		return docio.Stored{}, err
	}
	return docio.Stored{Key: key, Fingerprint: fp, Bytes: len(payload)}, nil
}

// invalidator is implemented by storage that keeps local copies.
type invalidator interface {
	Invalidate(key string)
}

// LoadDocument reads the document saved for database name. A missing
// fingerprint is tolerated; a mismatching one is an error. When storage
// keeps local copies, a mismatch first drops the local copy and reads the
// document again.
func (s *Service) LoadDocument(ctx context.Context, name string) (*types.Document, error) {
	if s.storage == nil {
		return nil, errors.WithStage(noStorage(), "LoadDocument")
	}

	start := time.Now()
	doc, err := s.loadDocument(ctx, name)
	if inv, ok := s.storage.(invalidator); ok && errors.GetCode(err) == errors.CodeChecksumMismatch {
		s.logger.Warn("cached document is stale, reloading", "database", name)
		inv.Invalidate(docio.DocumentKey(name))
		doc, err = s.loadDocument(ctx, name)
	}
	s.record(name, observability.OpLoad, start, 0, err)
	if err != nil {
		return nil, errors.WithStage(err, "LoadDocument")
	}
	return doc, nil
}

func (s *Service) loadDocument(ctx context.Context, name string) (*types.Document, error) {
	payload, err := s.storage.Get(ctx, docio.DocumentKey(name))
	if err != nil {
		return nil, err
	}

	var fp string
	switch raw, err := s.storage.Get(ctx, docio.FingerprintKey(name)); {
	case err == nil:
		fp = string(raw)
	case stderrors.Is(err, storage.ErrObjectNotFound):
		s.logger.Warn("document has no fingerprint", "database", name)
	default:
		return nil, err
	}
	return docio.Unpack(payload, fp)
}

func (s *Service) record(database, op string, start time.Time, changes int64, err error) {
	if s.stats != nil {
		s.stats.Record(database, op, time.Since(start), changes, err)
	}
}

func noStorage() *errors.Error {
	return errors.New(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "no document storage configured")
}

// Close closes every open database.
func (s *Service) Close(ctx context.Context) error {
	return s.registry.CloseAll(ctx)
}
