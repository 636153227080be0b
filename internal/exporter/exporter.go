// Package exporter serializes a SQLite database into a document, either in
// full or restricted to what changed since the last sync date.
package exporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/jsonsqlite/jsonsqlite/internal/catalog"
	"github.com/jsonsqlite/jsonsqlite/internal/ddl"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/internal/validate"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// LastModifiedColumn is the column partial exports compare to the sync date.
const LastModifiedColumn = "last_modified"

// Exporter builds documents from an open database. It holds no state
// between calls and is safe to share; the caller guarantees exclusive use
// of the connection for the duration of Export.
type Exporter struct {
	sink progress.Sink
}

// New creates an exporter reporting to sink. A nil sink discards events.
func New(sink progress.Sink) *Exporter {
	return &Exporter{sink: progress.OrNop(sink)}
}

// Export fills a copy of tmpl with the tables and views of the database
// behind q. tmpl supplies database, version, encrypted and mode. On error
// nothing is returned.
func (e *Exporter) Export(ctx context.Context, q catalog.Querier, tmpl types.Document) (*types.Document, error) {
	doc, err := e.createExportObject(ctx, q, tmpl)
	if err != nil {
		return nil, errors.WithStage(err, "CreateExportObject")
	}
	return doc, nil
}

func (e *Exporter) createExportObject(ctx context.Context, q catalog.Querier, tmpl types.Document) (*types.Document, error) {
	doc := tmpl.Template()
	if !doc.Mode.Valid() {
		return nil, errors.NewValidationError(errors.CodeInvalidMode,
			fmt.Sprintf("mode must be %q or %q (got %q)", types.ModeFull, types.ModePartial, doc.Mode))
	}

	tables, err := catalog.Tables(ctx, q)
	if err != nil {
		return nil, errors.WithStage(err, "GetTables")
	}
	if len(tables) == 0 {
		return nil, errors.NewStateError(errors.CodeNoTables, "database has no tables")
	}

	views, err := e.views(ctx, q)
	if err != nil {
		return nil, errors.WithStage(err, "GetViews")
	}

	switch doc.Mode {
	case types.ModePartial:
		data, err := e.PartialModeData(ctx, q)
		if err != nil {
			return nil, err
		}
		doc.Tables, err = e.tablesPartial(ctx, q, tables, data)
		if err != nil {
			return nil, errors.WithStage(err, "GetTablesPartial")
		}
	default:
		doc.Tables, err = e.tablesFull(ctx, q, tables)
		if err != nil {
			return nil, errors.WithStage(err, "GetTablesFull")
		}
	}
	doc.Views = views

	if err := validate.Document(&doc); err != nil {
		return nil, err
	}
	e.notifyDone(doc.Mode, len(tables))
	return &doc, nil
}

func (e *Exporter) tablesFull(ctx context.Context, q catalog.Querier, objs []catalog.Object) ([]types.Table, error) {
	tables := make([]types.Table, 0, len(objs))
	for i, obj := range objs {
		t, err := e.describe(ctx, q, obj)
		if err != nil {
			return nil, err
		}
		e.notifyTable(types.ModeFull, obj.Name, "schema", i, len(objs))

		t.Values, err = e.values(ctx, q, obj.Name, "")
		if err != nil {
			return nil, errors.WithStage(err, "GetValues")
		}
		if err := validate.Table(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
		e.notifyTable(types.ModeFull, obj.Name, "data", i, len(objs))
	}
	return tables, nil
}

func (e *Exporter) tablesPartial(ctx context.Context, q catalog.Querier, objs []catalog.Object, data *types.PartialModeData) ([]types.Table, error) {
	var tables []types.Table
	for i, obj := range objs {
		change := data.Changes[obj.Name]
		if change == "" || change == types.ChangeNone {
			continue
		}

		t := types.Table{Name: obj.Name}
		where := ""
		var args []any
		if change == types.ChangeCreate {
			var err error
			if t, err = e.describe(ctx, q, obj); err != nil {
				return nil, err
			}
		} else {
			where = ddl.QuoteIdent(LastModifiedColumn) + " > ?"
			args = []any{data.SyncDate}
		}
		e.notifyTable(types.ModePartial, obj.Name, "schema", i, len(objs))

		var err error
		t.Values, err = e.values(ctx, q, obj.Name, where, args...)
		if err != nil {
			return nil, errors.WithStage(err, "GetValues")
		}
		if err := validate.Table(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
		e.notifyTable(types.ModePartial, obj.Name, "data", i, len(objs))
	}
	return tables, nil
}

// describe collects the schema, indexes and triggers of a table.
func (e *Exporter) describe(ctx context.Context, q catalog.Querier, obj catalog.Object) (types.Table, error) {
	t := types.Table{Name: obj.Name}

	schema, err := ddl.ParseCreateTable(obj.SQL)
	if err != nil {
		return t, errors.WithStage(err, "GetSchema")
	}
	if err := validate.Columns(obj.Name, schema); err != nil {
		return t, errors.WithStage(err, "GetSchema")
	}
	t.Schema = schema

	if t.Indexes, err = e.indexes(ctx, q, obj.Name); err != nil {
		return t, errors.WithStage(err, "GetIndexes")
	}
	if t.Triggers, err = e.triggers(ctx, q, obj.Name); err != nil {
		return t, errors.WithStage(err, "GetTriggers")
	}
	return t, nil
}

func (e *Exporter) indexes(ctx context.Context, q catalog.Querier, table string) ([]types.Index, error) {
	objs, err := catalog.Indexes(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var idxs []types.Index
	for _, o := range objs {
		idx, err := ddl.ParseIndex(o.SQL)
		if err != nil {
			return nil, err
		}
		idx.Name = o.Name
		idxs = append(idxs, idx)
	}
	if err := validate.Indexes(table, idxs); err != nil {
		return nil, err
	}
	return idxs, nil
}

func (e *Exporter) triggers(ctx context.Context, q catalog.Querier, table string) ([]types.Trigger, error) {
	objs, err := catalog.Triggers(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var trs []types.Trigger
	for _, o := range objs {
		parts, err := ddl.ParseTrigger(o.SQL)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(parts.Table, table) {
			return nil, errors.NewStateError(errors.CodeTableMismatch,
				fmt.Sprintf("trigger %q fires on %q, not %q", o.Name, parts.Table, table))
		}
		parts.Trigger.Name = o.Name
		trs = append(trs, parts.Trigger)
	}
	if err := validate.Triggers(table, trs); err != nil {
		return nil, err
	}
	return trs, nil
}

func (e *Exporter) views(ctx context.Context, q catalog.Querier) ([]types.View, error) {
	objs, err := catalog.Views(ctx, q)
	if err != nil {
		return nil, err
	}
	var views []types.View
	for _, o := range objs {
		v, err := ddl.ParseView(o.SQL)
		if err != nil {
			return nil, err
		}
		v.Name = o.Name
		views = append(views, v)
	}
	if err := validate.Views(views); err != nil {
		return nil, err
	}
	return views, nil
}

func (e *Exporter) notifyTable(mode types.Mode, table, phase string, i, n int) {
	step := 2*i + 1
	if phase == "data" {
		step++
	}
	e.sink.Notify(progress.Event{
		Name:     progress.EventExport,
		Progress: fmt.Sprintf("Export: %s: Table %s %s export completed %d/%d ...", modeLabel(mode), table, phase, i+1, n),
		Step:     step,
		Total:    2 * n,
	})
}

func (e *Exporter) notifyDone(mode types.Mode, n int) {
	e.sink.Notify(progress.Event{
		Name:     progress.EventExport,
		Progress: fmt.Sprintf("Export: %s: Table's export completed", modeLabel(mode)),
		Step:     2 * n,
		Total:    2 * n,
	})
}

func modeLabel(mode types.Mode) string {
	if mode == types.ModePartial {
		return "Partial"
	}
	return "Full"
}
