// Package importer rebuilds a SQLite database from a document.
package importer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jsonsqlite/jsonsqlite/internal/catalog"
	"github.com/jsonsqlite/jsonsqlite/internal/ddl"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/internal/validate"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// FailedChanges is the changes count reported by a failed import.
const FailedChanges int64 = -1

// Conn is a single database connection. Foreign key enforcement is toggled
// outside the import transaction, so a *sql.DB must be limited to one
// open connection; *sql.Conn always is.
type Conn interface {
	catalog.Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Options configures an Importer.
type Options struct {
	// Sink receives importJsonProgress events
	Sink progress.Sink

	// LastModifiedTriggers creates an AFTER UPDATE trigger refreshing
	// last_modified on every created table that has that column
	LastModifiedTriggers bool
}

// Result reports the outcome of an import.
type Result struct {
	// Changes counts rows inserted or updated, or is FailedChanges
	Changes int64 `json:"changes"`
}

// Failed reports whether the result carries the failure sentinel.
func (r Result) Failed() bool {
	return r.Changes == FailedChanges
}

// Importer applies documents to databases.
type Importer struct {
	sink progress.Sink
	opts Options
}

// New creates an importer.
func New(opts Options) *Importer {
	return &Importer{sink: progress.OrNop(opts.Sink), opts: opts}
}

// Import validates doc and applies it in one transaction. A full-mode
// document replaces every user table, index, trigger and view; a
// partial-mode document creates missing tables and upserts rows keyed by
// their first column. Any failure rolls back and returns FailedChanges.
func (im *Importer) Import(ctx context.Context, conn Conn, doc *types.Document) (Result, error) {
	changes, err := im.importFromJSON(ctx, conn, doc)
	if err != nil {
		return Result{Changes: FailedChanges}, errors.WithStage(err, "ImportFromJson")
	}
	return Result{Changes: changes}, nil
}

func (im *Importer) importFromJSON(ctx context.Context, conn Conn, doc *types.Document) (changes int64, err error) {
	if err := validate.Document(doc); err != nil {
		return 0, err
	}
	if doc.Mode == types.ModeFull {
		for _, t := range doc.Tables {
			if len(t.Schema) == 0 {
				return 0, errors.NewValidationError(errors.CodeInvalidTable,
					fmt.Sprintf("table %q: schema: is required in full mode", t.Name))
			}
		}
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return 0, errors.NewQueryError(errors.CodeQueryFailed, "failed to disable foreign keys", err)
	}
	defer func() {
		if _, fkErr := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys = ON"); fkErr != nil && err == nil {
			err = errors.NewQueryError(errors.CodeQueryFailed, "failed to enable foreign keys", fkErr)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewQueryError(errors.CodeQueryFailed, "failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if doc.Mode == types.ModeFull {
		if err := dropAll(ctx, tx); err != nil {
			return 0, errors.WithStage(err, "DropAll")
		}
	}

	n := len(doc.Tables)
	for i := range doc.Tables {
		t := &doc.Tables[i]
		if err := im.createSchema(ctx, tx, t); err != nil {
			return 0, errors.WithStage(err, "CreateDatabaseSchema")
		}
		im.notifyTable(t.Name, "schema", i, n)

		c, err := im.createTableData(ctx, tx, doc.Mode, t)
		if err != nil {
			return 0, errors.WithStage(err, "CreateTableData")
		}
		changes += c
		im.notifyTable(t.Name, "data", i, n)
	}

	for _, v := range doc.Views {
		if _, err := tx.ExecContext(ctx, ddl.CreateView(v)); err != nil {
			return 0, errors.WithStage(ddlFailed("view", v.Name, err), "CreateViews")
		}
	}

	if err := catalog.SetUserVersion(ctx, tx, doc.Version); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.NewQueryError(errors.CodeQueryFailed, "failed to commit import", err)
	}

	im.sink.Notify(progress.Event{
		Name:     progress.EventImport,
		Progress: "Import: Table's import completed",
		Step:     2 * n,
		Total:    2 * n,
	})
	return changes, nil
}

func ddlFailed(kind, name string, err error) *errors.Error {
	return errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to create %s %q", kind, name), err)
}

// createSchema creates a table with its indexes and triggers.
func (im *Importer) createSchema(ctx context.Context, tx *sql.Tx, t *types.Table) error {
	if len(t.Schema) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, ddl.CreateTable(t.Name, t.Schema)); err != nil {
		return ddlFailed("table", t.Name, err)
	}
	for _, idx := range t.Indexes {
		if _, err := tx.ExecContext(ctx, ddl.CreateIndex(t.Name, idx)); err != nil {
			return ddlFailed("index", idx.Name, err)
		}
	}
	for _, tr := range t.Triggers {
		if _, err := tx.ExecContext(ctx, ddl.CreateTrigger(t.Name, tr)); err != nil {
			return ddlFailed("trigger", tr.Name, err)
		}
	}
	if im.opts.LastModifiedTriggers {
		return createLastModifiedTrigger(ctx, tx, t.Name)
	}
	return nil
}

// LastModifiedTriggerName is the name of the trigger created by the
// LastModifiedTriggers option.
func LastModifiedTriggerName(table string) string {
	return table + "_trigger"
}

func createLastModifiedTrigger(ctx context.Context, tx *sql.Tx, table string) error {
	ok, err := catalog.HasColumn(ctx, tx, table, "last_modified")
	if err != nil || !ok {
		return err
	}
	tr := types.Trigger{
		Name:      LastModifiedTriggerName(table),
		TimeEvent: "AFTER UPDATE",
		Condition: "FOR EACH ROW WHEN NEW.last_modified <= OLD.last_modified",
		Logic:     "BEGIN UPDATE " + ddl.QuoteIdent(table) + " SET last_modified = (strftime('%s','now')) WHERE rowid = OLD.rowid; END",
	}
	if _, err := tx.ExecContext(ctx, ddl.CreateTrigger(table, tr)); err != nil {
		return ddlFailed("trigger", tr.Name, err)
	}
	return nil
}

func (im *Importer) notifyTable(table, phase string, i, n int) {
	step := 2*i + 1
	if phase == "data" {
		step++
	}
	im.sink.Notify(progress.Event{
		Name:     progress.EventImport,
		Progress: fmt.Sprintf("Import: Table %s %s import completed %d/%d ...", table, phase, i+1, n),
		Step:     step,
		Total:    2 * n,
	})
}
