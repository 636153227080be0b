package exporter

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jsonsqlite/jsonsqlite/internal/catalog"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

func openTestDB(t *testing.T, stmts ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("failed to exec %q: %v", s, err)
		}
	}
	return db
}

var schema = []string{
	"CREATE TABLE users (id INTEGER PRIMARY KEY NOT NULL, email TEXT UNIQUE NOT NULL, name TEXT, age INTEGER CHECK (age > 0 AND age < 150), score REAL, last_modified INTEGER)",
	"CREATE TABLE posts (id INTEGER PRIMARY KEY NOT NULL, user_id INTEGER, body TEXT, last_modified INTEGER, FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE)",
	"CREATE TABLE tags (id INTEGER PRIMARY KEY NOT NULL, label TEXT, last_modified INTEGER)",
	"CREATE INDEX ix_posts_user ON posts (user_id)",
	"CREATE UNIQUE INDEX ux_tags_label ON tags (label)",
	"CREATE TRIGGER users_trigger AFTER UPDATE ON users FOR EACH ROW WHEN NEW.last_modified <= OLD.last_modified BEGIN UPDATE users SET last_modified = (strftime('%s','now')) WHERE id=OLD.id; END",
	"CREATE VIEW user_posts AS SELECT u.name, p.body FROM users u JOIN posts p ON p.user_id = u.id",
	"INSERT INTO users VALUES (1, 'a@x', 'Ann', 30, 1.5, 1000), (2, 'b@x', NULL, 40, 2.0, 2000)",
	"INSERT INTO posts VALUES (1, 1, 'hello', 1600), (2, 2, 'world', 1700)",
	"INSERT INTO tags VALUES (1, 'go', 1000)",
}

func fullTemplate() types.Document {
	return types.Document{Database: "app", Version: 2, Mode: types.ModeFull}
}

func TestExport_Full(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, schema...)
	rec := &progress.Recorder{}

	doc, err := New(rec).Export(ctx, db, fullTemplate())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	if doc.Database != "app" || doc.Version != 2 || doc.Mode != types.ModeFull {
		t.Errorf("header not copied from template: %+v", doc)
	}
	if len(doc.Tables) != 3 {
		t.Fatalf("got %d tables, want 3", len(doc.Tables))
	}

	users := doc.Tables[0]
	wantSchema := []types.Column{
		{Column: "id", Value: "INTEGER PRIMARY KEY NOT NULL"},
		{Column: "email", Value: "TEXT UNIQUE NOT NULL"},
		{Column: "name", Value: "TEXT"},
		{Column: "age", Value: "INTEGER CHECK (age > 0 AND age < 150)"},
		{Column: "score", Value: "REAL"},
		{Column: "last_modified", Value: "INTEGER"},
	}
	if !reflect.DeepEqual(users.Schema, wantSchema) {
		t.Errorf("users schema: got %+v, want %+v", users.Schema, wantSchema)
	}
	wantValues := [][]any{
		{int64(1), "a@x", "Ann", int64(30), types.Real(1.5), int64(1000)},
		{int64(2), "b@x", nil, int64(40), types.Real(2), int64(2000)},
	}
	if !reflect.DeepEqual(users.Values, wantValues) {
		t.Errorf("users values: got %#v, want %#v", users.Values, wantValues)
	}
	if len(users.Triggers) != 1 || users.Triggers[0].TimeEvent != "AFTER UPDATE" {
		t.Errorf("users triggers: got %+v", users.Triggers)
	}
	if len(users.Indexes) != 0 {
		t.Errorf("automatic indexes must not be exported: %+v", users.Indexes)
	}

	posts := doc.Tables[1]
	if fk := posts.Schema[4]; fk.ForeignKey != "user_id" || fk.Value != "REFERENCES users(id) ON DELETE CASCADE" {
		t.Errorf("posts foreign key: got %+v", fk)
	}
	if len(posts.Indexes) != 1 || posts.Indexes[0] != (types.Index{Name: "ix_posts_user", Value: "user_id"}) {
		t.Errorf("posts indexes: got %+v", posts.Indexes)
	}

	tags := doc.Tables[2]
	if len(tags.Indexes) != 1 || tags.Indexes[0].Mode != types.IndexModeUnique {
		t.Errorf("tags indexes: got %+v", tags.Indexes)
	}

	wantView := types.View{Name: "user_posts", Value: "SELECT u.name, p.body FROM users u JOIN posts p ON p.user_id = u.id"}
	if len(doc.Views) != 1 || doc.Views[0] != wantView {
		t.Errorf("views: got %+v, want %+v", doc.Views, wantView)
	}

	wantMsgs := []string{
		"Export: Full: Table users schema export completed 1/3 ...",
		"Export: Full: Table users data export completed 1/3 ...",
		"Export: Full: Table posts schema export completed 2/3 ...",
		"Export: Full: Table posts data export completed 2/3 ...",
		"Export: Full: Table tags schema export completed 3/3 ...",
		"Export: Full: Table tags data export completed 3/3 ...",
		"Export: Full: Table's export completed",
	}
	if got := rec.Messages(); !reflect.DeepEqual(got, wantMsgs) {
		t.Errorf("progress: got %q, want %q", got, wantMsgs)
	}
	events := rec.Events()
	for i, e := range events {
		if e.Name != progress.EventExport {
			t.Errorf("event %d: got name %q", i, e.Name)
		}
		if e.Total != 6 {
			t.Errorf("event %d: got total %d, want 6", i, e.Total)
		}
	}
	if last := events[len(events)-1]; last.Step != last.Total {
		t.Errorf("final event step %d != total %d", last.Step, last.Total)
	}
}

func TestExport_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, schema...)
	exp := New(nil)

	first, err := exp.Export(ctx, db, fullTemplate())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	second, err := exp.Export(ctx, db, fullTemplate())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("exports differ:\n%s\n%s", a, b)
	}
	if !strings.Contains(string(a), `2.0`) {
		t.Errorf("real values should keep a fractional part: %s", a)
	}
}

func TestExport_Partial(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, schema...)
	if _, err := catalog.CreateSyncTable(ctx, db, time.Unix(1500, 0)); err != nil {
		t.Fatalf("CreateSyncTable() failed: %v", err)
	}
	rec := &progress.Recorder{}
	exp := New(rec)

	data, err := exp.PartialModeData(ctx, db)
	if err != nil {
		t.Fatalf("PartialModeData() failed: %v", err)
	}
	wantChanges := map[string]types.TableChange{
		"users": types.ChangeModified,
		"posts": types.ChangeCreate,
		"tags":  types.ChangeNone,
	}
	if data.SyncDate != 1500 || !reflect.DeepEqual(data.Changes, wantChanges) {
		t.Errorf("got %+v, want sync 1500 and %v", data, wantChanges)
	}

	tmpl := fullTemplate()
	tmpl.Mode = types.ModePartial
	doc, err := exp.Export(ctx, db, tmpl)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if len(doc.Tables) != 2 {
		t.Fatalf("got %d tables, want 2 (tags unchanged)", len(doc.Tables))
	}

	users := doc.Tables[0]
	if users.Name != "users" || users.Schema != nil || users.Indexes != nil || users.Triggers != nil {
		t.Errorf("modified table must carry values only: %+v", users)
	}
	want := [][]any{{int64(2), "b@x", nil, int64(40), types.Real(2), int64(2000)}}
	if !reflect.DeepEqual(users.Values, want) {
		t.Errorf("users values: got %#v, want %#v", users.Values, want)
	}

	posts := doc.Tables[1]
	if posts.Name != "posts" || len(posts.Schema) != 5 || len(posts.Indexes) != 1 || len(posts.Values) != 2 {
		t.Errorf("created table must carry schema, indexes and all rows: %+v", posts)
	}

	msgs := rec.Messages()
	if len(msgs) != 5 {
		t.Fatalf("got %d progress events, want 5: %q", len(msgs), msgs)
	}
	if msgs[2] != "Export: Partial: Table posts schema export completed 2/3 ..." {
		t.Errorf("got %q", msgs[2])
	}
	if msgs[4] != "Export: Partial: Table's export completed" {
		t.Errorf("got %q", msgs[4])
	}
}

func TestExport_PartialWithoutSyncDate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, schema...)
	rec := &progress.Recorder{}

	tmpl := fullTemplate()
	tmpl.Mode = types.ModePartial
	doc, err := New(rec).Export(ctx, db, tmpl)
	if doc != nil {
		t.Error("no document may be returned on error")
	}
	if !errors.IsState(err) || errors.GetCode(err) != errors.CodeMissingSyncDate {
		t.Fatalf("expected MISSING_SYNC_DATE, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "CreateExportObject: GetPartialModeData: ") {
		t.Errorf("stage chain missing: %q", err.Error())
	}
	if len(rec.Events()) != 0 {
		t.Errorf("no progress expected, got %q", rec.Messages())
	}
}

func TestExport_UnsupportedValue(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t,
		"CREATE TABLE files (id INTEGER PRIMARY KEY, data BLOB)",
		"INSERT INTO files VALUES (1, x'00ff')",
	)
	rec := &progress.Recorder{}

	doc, err := New(rec).Export(ctx, db, fullTemplate())
	if doc != nil {
		t.Error("no document may be returned on error")
	}
	if !errors.IsQuery(err) || errors.GetCode(err) != errors.CodeUnsupportedValue {
		t.Fatalf("expected UNSUPPORTED_VALUE, got %v", err)
	}
	if got := errors.Stages(err); !reflect.DeepEqual(got, []string{"CreateExportObject", "GetTablesFull", "GetValues"}) {
		t.Errorf("got stages %v", got)
	}
	for _, m := range rec.Messages() {
		if strings.Contains(m, "Table's export completed") {
			t.Error("final progress event must not be sent on failure")
		}
	}
}

func TestExport_DeclaredTypesNotConverted(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t,
		"CREATE TABLE events (id INTEGER PRIMARY KEY, at DATETIME, done BOOLEAN)",
		"INSERT INTO events VALUES (1, '2024-01-02 03:04:05', 1)",
	)

	doc, err := New(nil).Export(ctx, db, fullTemplate())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	want := [][]any{{int64(1), "2024-01-02 03:04:05", int64(1)}}
	if !reflect.DeepEqual(doc.Tables[0].Values, want) {
		t.Errorf("got %#v, want %#v", doc.Tables[0].Values, want)
	}
}

func TestExport_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no tables", func(t *testing.T) {
		db := openTestDB(t)
		_, err := New(nil).Export(ctx, db, fullTemplate())
		if !errors.IsState(err) || errors.GetCode(err) != errors.CodeNoTables {
			t.Errorf("expected NO_TABLES, got %v", err)
		}
	})

	t.Run("bad mode", func(t *testing.T) {
		db := openTestDB(t, schema...)
		tmpl := fullTemplate()
		tmpl.Mode = "everything"
		_, err := New(nil).Export(ctx, db, tmpl)
		if !errors.IsValidation(err) {
			t.Errorf("expected VALIDATION error, got %v", err)
		}
	})

	t.Run("closed connection", func(t *testing.T) {
		db := openTestDB(t, schema...)
		db.Close()
		_, err := New(nil).Export(ctx, db, fullTemplate())
		if !errors.IsQuery(err) {
			t.Errorf("expected QUERY error, got %v", err)
		}
	})
}

func TestExport_UnnamedTableConstraints(t *testing.T) {
	tests := []struct {
		name       string
		create     string
		constraint types.Column
	}{
		{"primary key", "CREATE TABLE t (a INTEGER, b TEXT, PRIMARY KEY (a, b))", types.Column{Column: "PRIMARY", Value: "KEY (a, b)"}},
		{"unique", "CREATE TABLE t (a INTEGER, b TEXT, UNIQUE (a, b))", types.Column{Column: "UNIQUE", Value: "(a, b)"}},
		{"check", "CREATE TABLE t (a INTEGER, b TEXT, CHECK (a > 0))", types.Column{Column: "CHECK", Value: "(a > 0)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t, tt.create, "INSERT INTO t VALUES (1, 'x')")

			doc, err := New(nil).Export(context.Background(), db, fullTemplate())
			if err != nil {
				t.Fatalf("Export() failed: %v", err)
			}
			if len(doc.Tables) != 1 {
				t.Fatalf("got %d tables, want 1", len(doc.Tables))
			}
			table := doc.Tables[0]
			if len(table.Schema) != 3 || table.Schema[2] != tt.constraint {
				t.Errorf("schema: got %+v", table.Schema)
			}
			want := [][]any{{int64(1), "x"}}
			if !reflect.DeepEqual(table.Values, want) {
				t.Errorf("values: got %#v, want %#v", table.Values, want)
			}
		})
	}
}
