// Package integration provides end-to-end integration tests for jsonsqlite.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jsonsqlite/jsonsqlite/internal/app"
	"github.com/jsonsqlite/jsonsqlite/internal/config"
	"github.com/jsonsqlite/jsonsqlite/internal/docio"
	"github.com/jsonsqlite/jsonsqlite/internal/logging"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/internal/registry"
	"github.com/jsonsqlite/jsonsqlite/internal/storage"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// device is one service with its own database directory. Devices created
// by the same test share document storage.
type device struct {
	svc *app.Service
	rec *progress.Recorder
}

func newDevice(t *testing.T, store storage.ObjectStorage) *device {
	t.Helper()
	cfg := registry.DefaultConfig()
	cfg.Directory = t.TempDir()
	rec := &progress.Recorder{}
	svc := app.NewService(app.ServiceOptions{
		Registry: registry.New(cfg),
		Storage:  store,
		Sink:     rec,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	t.Cleanup(func() { svc.Close(context.Background()) })
	return &device{svc: svc, rec: rec}
}

func newStore(t *testing.T) storage.ObjectStorage {
	t.Helper()
	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "documents"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return store
}

func seedDocument() *types.Document {
	return &types.Document{
		Database: "app",
		Version:  3,
		Mode:     types.ModeFull,
		Tables: []types.Table{
			{
				Name: "users",
				Schema: []types.Column{
					{Column: "id", Value: "INTEGER PRIMARY KEY NOT NULL"},
					{Column: "name", Value: "TEXT NOT NULL"},
					{Column: "score", Value: "REAL"},
					{Column: "last_modified", Value: "INTEGER"},
				},
				Indexes: []types.Index{{Name: "ix_users_name", Value: "name"}},
				Values: [][]any{
					{json.Number("1"), "Ann", json.Number("1.5"), json.Number("1000")},
					{json.Number("2"), "Bob", nil, json.Number("1000")},
				},
			},
			{
				Name: "notes",
				Schema: []types.Column{
					{Column: "id", Value: "INTEGER PRIMARY KEY NOT NULL"},
					{Column: "user_id", Value: "INTEGER"},
					{Column: "body", Value: "TEXT"},
					{Column: "last_modified", Value: "INTEGER"},
					{ForeignKey: "user_id", Value: "REFERENCES users(id) ON DELETE CASCADE"},
				},
				Values: [][]any{
					{json.Number("1"), json.Number("1"), "it's a note", json.Number("1000")},
				},
			},
		},
		Views: []types.View{{Name: "user_notes", Value: "SELECT u.name, n.body FROM users u JOIN notes n ON n.user_id = u.id"}},
	}
}

func (d *device) exportOpen(t *testing.T, name string, mode types.Mode) *types.Document {
	t.Helper()
	ctx := context.Background()
	if err := d.svc.OpenDatabase(ctx, name); err != nil {
		t.Fatalf("OpenDatabase(%s) failed: %v", name, err)
	}
	defer d.svc.CloseDatabase(ctx, name)
	doc, err := d.svc.ExportToJSON(ctx, name, mode)
	if err != nil {
		t.Fatalf("ExportToJSON(%s, %s) failed: %v", name, mode, err)
	}
	return doc
}

func encode(t *testing.T, doc *types.Document) []byte {
	t.Helper()
	raw, err := docio.Encode(doc)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	return raw
}

// TestFullRoundTrip moves a database between two devices through saved
// documents: export → save → load → import → export.
func TestFullRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := newDevice(t, store)
	b := newDevice(t, store)

	if _, err := a.svc.ImportFromJSON(ctx, seedDocument()); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}
	original := a.exportOpen(t, "app", types.ModeFull)
	if len(original.Tables) != 2 || len(original.Views) != 1 {
		t.Fatalf("exported %d tables and %d views", len(original.Tables), len(original.Views))
	}

	stored, err := a.svc.SaveDocument(ctx, original)
	if err != nil {
		t.Fatalf("SaveDocument() failed: %v", err)
	}
	if stored.Key != docio.DocumentKey("app") || stored.Fingerprint == "" {
		t.Errorf("unexpected stored document %+v", stored)
	}

	loaded, err := b.svc.LoadDocument(ctx, "app")
	if err != nil {
		t.Fatalf("LoadDocument() failed: %v", err)
	}
	res, err := b.svc.ImportFromJSON(ctx, loaded)
	if err != nil {
		t.Fatalf("ImportFromJSON() on second device failed: %v", err)
	}
	if res.Changes != 3 {
		t.Errorf("changes = %d, want 3", res.Changes)
	}

	copied := b.exportOpen(t, "app", types.ModeFull)
	if got, want := encode(t, copied), encode(t, original); !bytes.Equal(got, want) {
		t.Errorf("round trip differs:\n got %s\nwant %s", got, want)
	}

	var sawImport, sawExport bool
	for _, e := range b.rec.Events() {
		switch e.Name {
		case progress.EventImport:
			sawImport = true
		case progress.EventExport:
			sawExport = true
		}
	}
	if !sawImport || !sawExport {
		t.Errorf("progress events missing: import %v export %v", sawImport, sawExport)
	}
}

// TestPartialSync exports only the rows changed since the sync date and
// applies them on a device holding the earlier state.
func TestPartialSync(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := newDevice(t, store)
	b := newDevice(t, store)

	if _, err := a.svc.ImportFromJSON(ctx, seedDocument()); err != nil {
		t.Fatalf("seed import on a failed: %v", err)
	}
	if _, err := b.svc.ImportFromJSON(ctx, seedDocument()); err != nil {
		t.Fatalf("seed import on b failed: %v", err)
	}

	if err := a.svc.OpenDatabase(ctx, "app"); err != nil {
		t.Fatalf("OpenDatabase() failed: %v", err)
	}
	if _, err := a.svc.ExportToJSON(ctx, "app", types.ModePartial); err == nil {
		t.Fatal("partial export without a sync date must fail")
	}
	if _, err := a.svc.CreateSyncTable(ctx, "app"); err != nil {
		t.Fatalf("CreateSyncTable() failed: %v", err)
	}
	if err := a.svc.SetSyncDate(ctx, "app", 1500); err != nil {
		t.Fatalf("SetSyncDate() failed: %v", err)
	}

	edits := &types.Document{
		Database: "app",
		Version:  3,
		Mode:     types.ModePartial,
		Tables: []types.Table{{
			Name: "users",
			Values: [][]any{
				{json.Number("2"), "Robert", json.Number("7.25"), json.Number("2000")},
				{json.Number("3"), "Cid", nil, json.Number("2000")},
			},
		}},
	}
	res, err := a.svc.ImportFromJSON(ctx, edits)
	if err != nil {
		t.Fatalf("partial import on a failed: %v", err)
	}
	if res.Changes != 2 {
		t.Errorf("changes = %d, want 2", res.Changes)
	}

	delta, err := a.svc.ExportToJSON(ctx, "app", types.ModePartial)
	if err != nil {
		t.Fatalf("partial export failed: %v", err)
	}
	if delta.Mode != types.ModePartial || len(delta.Tables) != 1 {
		t.Fatalf("partial export: mode %s, %d tables", delta.Mode, len(delta.Tables))
	}
	users := delta.Tables[0]
	if users.Name != "users" || users.Schema != nil || len(users.Values) != 2 {
		t.Errorf("modified table must carry the changed rows only: %+v", users)
	}
	if err := a.svc.CloseDatabase(ctx, "app"); err != nil {
		t.Fatalf("CloseDatabase() failed: %v", err)
	}

	decoded, err := docio.Decode(encode(t, delta))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if res, err := b.svc.ImportFromJSON(ctx, decoded); err != nil || res.Changes != 2 {
		t.Fatalf("partial import on b: changes %d, err %v", res.Changes, err)
	}

	want := encode(t, a.exportOpen(t, "app", types.ModeFull))
	if got := encode(t, b.exportOpen(t, "app", types.ModeFull)); !bytes.Equal(got, want) {
		t.Errorf("devices diverged:\n got %s\nwant %s", got, want)
	}
}

// TestHTTPEndToEnd drives import, sync date, export and saved documents
// through a running server.
func TestHTTPEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 2 * time.Second

	srv, err := app.New(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("app.New() failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer srv.Stop(context.Background())
	base := "http://" + srv.Addr()

	call := func(method, path, body string, wantStatus int) []byte {
		t.Helper()
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, base+path, r)
		if err != nil {
			t.Fatalf("NewRequest() failed: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", method, path, err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != wantStatus {
			t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, wantStatus, data)
		}
		return data
	}

	seed, err := docio.Encode(seedDocument())
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	call(http.MethodPost, "/v1/validate", string(seed), http.StatusOK)
	call(http.MethodPost, "/v1/import", string(seed), http.StatusOK)
	call(http.MethodPost, "/v1/databases/app/open", "", http.StatusOK)
	call(http.MethodPost, "/v1/databases/app/export?mode=partial", "", http.StatusConflict)
	call(http.MethodPost, "/v1/databases/app/sync-table", "", http.StatusOK)
	call(http.MethodPut, "/v1/databases/app/sync-date", `{"sync_date":500}`, http.StatusOK)

	var sync struct {
		SyncDate int64 `json:"sync_date"`
	}
	if err := json.Unmarshal(call(http.MethodGet, "/v1/databases/app/sync-date", "", http.StatusOK), &sync); err != nil || sync.SyncDate != 500 {
		t.Errorf("sync date = %d, %v", sync.SyncDate, err)
	}

	partial, err := docio.Decode(call(http.MethodPost, "/v1/databases/app/export?mode=partial&save=true", "", http.StatusOK))
	if err != nil {
		t.Fatalf("partial export is not a document: %v", err)
	}
	if partial.Mode != types.ModePartial || len(partial.Tables) != 2 {
		t.Errorf("every table changed after the sync date: %+v", partial)
	}

	saved, err := docio.Decode(call(http.MethodGet, "/v1/documents/app", "", http.StatusOK))
	if err != nil {
		t.Fatalf("saved document is not a document: %v", err)
	}
	if !reflect.DeepEqual(saved, partial) {
		t.Errorf("saved document differs from the exported one")
	}

	call(http.MethodDelete, "/v1/databases/app", "", http.StatusNoContent)
	call(http.MethodPost, "/v1/databases/app/export", "", http.StatusNotFound)
}

// TestProperty_RowsSurviveRoundTrip checks that rows imported from a JSON
// document are exported back with the same values.
func TestProperty_RowsSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	dev := newDevice(t, nil)
	var seq atomic.Int64

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("export(import(rows)) == rows", prop.ForAll(
		func(names []string, base int64) bool {
			if len(names) == 0 {
				return true
			}
			name := fmt.Sprintf("prop%d", seq.Add(1))
			values := make([][]any, len(names))
			want := make([][]any, len(names))
			for i, n := range names {
				id := int64(i + 1)
				score := float64(base+int64(i)) + 0.5
				values[i] = []any{json.Number(fmt.Sprint(id)), n, json.Number(fmt.Sprint(score))}
				want[i] = []any{id, n, types.Real(score)}
			}
			doc := &types.Document{
				Database: name,
				Version:  1,
				Mode:     types.ModeFull,
				Tables: []types.Table{{
					Name: "items",
					Schema: []types.Column{
						{Column: "id", Value: "INTEGER PRIMARY KEY NOT NULL"},
						{Column: "label", Value: "TEXT"},
						{Column: "score", Value: "REAL"},
					},
					Values: values,
				}},
			}
			if _, err := dev.svc.ImportFromJSON(ctx, doc); err != nil {
				return false
			}
			if err := dev.svc.OpenDatabase(ctx, name); err != nil {
				return false
			}
			defer dev.svc.CloseDatabase(ctx, name)
			out, err := dev.svc.ExportToJSON(ctx, name, types.ModeFull)
			if err != nil || len(out.Tables) != 1 {
				return false
			}
			return reflect.DeepEqual(out.Tables[0].Values, want)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}
