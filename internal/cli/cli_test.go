package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jsonsqlite/jsonsqlite/internal/docio"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

const usersJSON = `{"database":"app","version":2,"encrypted":false,"mode":"full","tables":[
  {"name":"users",
   "schema":[{"column":"id","value":"INTEGER PRIMARY KEY NOT NULL"},{"column":"name","value":"TEXT"},{"column":"last_modified","value":"INTEGER"}],
   "values":[[1,"Ann",1000],[2,"Bob",2000]]}]}`

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, dataDir string, stdin string, args ...string) result {
	t.Helper()
	root, st := newRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--data-dir", dataDir, "--no-progress", "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	st.close()
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportExport(t *testing.T) {
	dataDir := t.TempDir()
	docPath := writeFile(t, t.TempDir(), "app.json", usersJSON)

	res := run(t, dataDir, "", "import", docPath)
	if res.err != nil {
		t.Fatalf("import failed: %v", res.err)
	}
	if !strings.Contains(res.stdout, "imported app: 2 changes") {
		t.Errorf("import output: %q", res.stdout)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "databases", "appSQLite.db")); err != nil {
		t.Errorf("database file missing: %v", err)
	}

	res = run(t, dataDir, "", "export", "app")
	if res.err != nil {
		t.Fatalf("export failed: %v", res.err)
	}
	doc, err := docio.Decode([]byte(res.stdout))
	if err != nil {
		t.Fatalf("export output is not a document: %v", err)
	}
	if doc.Database != "app" || doc.Version != 2 || len(doc.Tables) != 1 || len(doc.Tables[0].Values) != 2 {
		t.Errorf("exported document: %+v", doc)
	}

	out := filepath.Join(t.TempDir(), "pretty.json")
	res = run(t, dataDir, "", "export", "app", "--pretty", "-o", out)
	if res.err != nil {
		t.Fatalf("export to file failed: %v", res.err)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(raw, []byte("\n  \"database\": \"app\"")) {
		t.Errorf("output not indented: %.80s", raw)
	}
}

func TestImportFromStdin(t *testing.T) {
	res := run(t, t.TempDir(), usersJSON, "import", "-")
	if res.err != nil {
		t.Fatalf("import failed: %v", res.err)
	}
	if !strings.Contains(res.stdout, "2 changes") {
		t.Errorf("import output: %q", res.stdout)
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	docPath := writeFile(t, t.TempDir(), "app.json", usersJSON)
	if res := run(t, dataDir, "", "import", docPath); res.err != nil {
		t.Fatalf("import failed: %v", res.err)
	}

	compressed := filepath.Join(t.TempDir(), "copy.json.sz")
	if res := run(t, dataDir, "", "export", "app", "-o", compressed); res.err != nil {
		t.Fatalf("export failed: %v", res.err)
	}
	raw, err := os.ReadFile(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := docio.Decode(raw); err == nil {
		t.Error("compressed output decoded as plain JSON")
	}

	other := t.TempDir()
	res := run(t, other, "", "import", compressed)
	if res.err != nil {
		t.Fatalf("import of compressed document failed: %v", res.err)
	}
	if !strings.Contains(res.stdout, "2 changes") {
		t.Errorf("import output: %q", res.stdout)
	}
}

func TestSaveAndImportSaved(t *testing.T) {
	dataDir := t.TempDir()
	docPath := writeFile(t, t.TempDir(), "app.json", usersJSON)
	if res := run(t, dataDir, "", "import", docPath); res.err != nil {
		t.Fatalf("import failed: %v", res.err)
	}

	res := run(t, dataDir, "", "export", "app", "--save", "-o", filepath.Join(t.TempDir(), "x.json"))
	if res.err != nil {
		t.Fatalf("export --save failed: %v", res.err)
	}
	if !strings.Contains(res.stderr, "saved app.json.sz") {
		t.Errorf("stderr: %q", res.stderr)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "documents", "app.json.sz.fp")); err != nil {
		t.Errorf("fingerprint not stored: %v", err)
	}

	res = run(t, dataDir, "", "import", "--saved", "app")
	if res.err != nil {
		t.Fatalf("import --saved failed: %v", res.err)
	}

	if res := run(t, dataDir, "", "import", "--saved", "app", docPath); res.err == nil {
		t.Error("expected error when both a file and --saved are given")
	}
	if res := run(t, dataDir, "", "import"); res.err == nil {
		t.Error("expected error without a document")
	}
}

func TestExportErrors(t *testing.T) {
	dataDir := t.TempDir()

	res := run(t, dataDir, "", "export", "missing")
	if !errors.IsState(res.err) {
		t.Errorf("export of missing database: got %v", res.err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "databases", "missingSQLite.db")); !os.IsNotExist(err) {
		t.Error("export must not create a database")
	}

	res = run(t, dataDir, "", "export", "app", "--mode", "incremental")
	if !errors.IsValidation(res.err) {
		t.Errorf("bad mode: got %v", res.err)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "valid.json", usersJSON)
	invalid := writeFile(t, dir, "invalid.json", `{"database":"app","mode":"full","tables":[{"name":"t"}]}`)

	res := run(t, t.TempDir(), "", "validate", valid)
	if res.err != nil || !strings.Contains(res.stdout, "valid") {
		t.Errorf("valid document: %q, %v", res.stdout, res.err)
	}
	res = run(t, t.TempDir(), "", "validate", invalid)
	if !errors.IsValidation(res.err) {
		t.Errorf("invalid document: got %v", res.err)
	}
	res = run(t, t.TempDir(), "", "validate", filepath.Join(dir, "absent.json"))
	if res.err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestSyncCommands(t *testing.T) {
	dataDir := t.TempDir()
	docPath := writeFile(t, t.TempDir(), "app.json", usersJSON)
	if res := run(t, dataDir, "", "import", docPath); res.err != nil {
		t.Fatalf("import failed: %v", res.err)
	}

	if res := run(t, dataDir, "", "sync", "get", "app"); res.err != nil || strings.TrimSpace(res.stdout) != "-1" {
		t.Errorf("sync get before create: %q, %v", res.stdout, res.err)
	}
	if res := run(t, dataDir, "", "sync", "create", "app"); res.err != nil || !strings.Contains(res.stdout, "changes: 1") {
		t.Errorf("sync create: %q, %v", res.stdout, res.err)
	}
	if res := run(t, dataDir, "", "sync", "set", "app", "1710000000"); res.err != nil {
		t.Errorf("sync set: %v", res.err)
	}
	if res := run(t, dataDir, "", "sync", "get", "app"); strings.TrimSpace(res.stdout) != "1710000000" {
		t.Errorf("sync get: %q, %v", res.stdout, res.err)
	}
	if res := run(t, dataDir, "", "sync", "set", "app", "yesterday"); !errors.IsValidation(res.err) {
		t.Errorf("sync set with bad date: %v", res.err)
	}
	if res := run(t, dataDir, "", "sync", "get", "other"); !errors.IsState(res.err) {
		t.Errorf("sync get of missing database: %v", res.err)
	}
}

func TestParseSyncDate(t *testing.T) {
	now := func() time.Time { return time.Unix(1700000000, 0) }
	ts := time.Unix(1710000000, 0).UTC().Format(time.RFC3339)

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"now", 1700000000, false},
		{"1710000000", 1710000000, false},
		{ts, 1710000000, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseSyncDate(tt.in, now)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseSyncDate(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "jsonsqlite.yaml", `
export:
  mode: partial
log:
  level: info
  format: json
http:
  read_timeout: 7s
`)
	t.Setenv("JSONSQLITE_LOG_FORMAT", "text")
	t.Setenv("JSONSQLITE_IMPORT_LAST_MODIFIED_TRIGGERS", "true")

	res := run(t, t.TempDir(), "", "--config", cfgFile, "config")
	if res.err != nil {
		t.Fatalf("config failed: %v", res.err)
	}
	for _, want := range []string{
		"mode: partial",
		"level: error",
		"format: text",
		"last_modified_triggers: true",
		"read_timeout: 7s",
	} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("effective config lacks %q:\n%s", want, res.stdout)
		}
	}

	res = run(t, t.TempDir(), "", "--config", filepath.Join(dir, "absent.yaml"), "config")
	if errors.GetCategory(res.err) != errors.ErrCategoryConfig {
		t.Errorf("missing config file: got %v", res.err)
	}
}

func TestVersion(t *testing.T) {
	res := run(t, t.TempDir(), "", "version")
	if res.err != nil || !strings.HasPrefix(res.stdout, "jsonsqlite version ") {
		t.Errorf("version: %q, %v", res.stdout, res.err)
	}
}

func TestImportFile(t *testing.T) {
	dataDir := t.TempDir()
	root, st := newRoot()
	root.SetArgs([]string{"--data-dir", dataDir, "--no-progress", "--log-level", "error", "config"})
	root.SetOut(&bytes.Buffer{})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer st.close()

	path := writeFile(t, t.TempDir(), "app.json", usersJSON)
	if err := importFile(context.Background(), st, path); err != nil {
		t.Fatalf("importFile() failed: %v", err)
	}
	bad := writeFile(t, t.TempDir(), "bad.json", `{"database":`)
	if err := importFile(context.Background(), st, bad); err == nil {
		t.Error("expected error for a malformed document")
	}

	if err := moveInto(path, filepath.Join(filepath.Dir(path), "imported")); err != nil {
		t.Fatalf("moveInto() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "imported", "app.json")); err != nil {
		t.Errorf("file not moved: %v", err)
	}
}
