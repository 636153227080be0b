package docio

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

func sampleDocument() *types.Document {
	return &types.Document{
		Database: "app",
		Version:  2,
		Mode:     types.ModeFull,
		Tables: []types.Table{{
			Name: "users",
			Schema: []types.Column{
				{Column: "id", Value: "INTEGER PRIMARY KEY"},
				{Column: "name", Value: "TEXT"},
				{Column: "score", Value: "REAL"},
			},
			Values: [][]any{
				{int64(1), "ann <a&b>", types.Real(2)},
				{int64(9007199254740993), nil, types.Real(0.5)},
			},
		}},
	}
}

func TestDecode_KeepsIntegers(t *testing.T) {
	doc, err := Decode([]byte(`{"database":"app","version":1,"encrypted":false,"mode":"full",
		"tables":[{"name":"t","values":[[9007199254740993, 1.0, "x", null]]}]}`))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	row := doc.Tables[0].Values[0]
	if n, ok := row[0].(json.Number); !ok || n.String() != "9007199254740993" {
		t.Errorf("got %#v, want json.Number 9007199254740993", row[0])
	}
	if n, ok := row[1].(json.Number); !ok || n.String() != "1.0" {
		t.Errorf("got %#v, want json.Number 1.0", row[1])
	}
	if row[3] != nil {
		t.Errorf("got %#v, want nil", row[3])
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"not an object", `[1, 2]`},
		{"wrong type", `{"database": 1}`},
		{"trailing data", `{"database":"a"} {"database":"b"}`},
		{"truncated", `{"database":"a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.IsValidation(err) {
				t.Errorf("expected VALIDATION error, got %v", err)
			}
		})
	}
}

func TestPackUnpack(t *testing.T) {
	doc := sampleDocument()
	payload, fp, err := Pack(doc)
	if err != nil {
		t.Fatalf("Pack() failed: %v", err)
	}
	if len(fp) != 32 {
		t.Errorf("fingerprint %q should be 32 hex chars", fp)
	}

	got, err := Unpack(payload, fp)
	if err != nil {
		t.Fatalf("Unpack() failed: %v", err)
	}
	if got.Database != "app" || len(got.Tables) != 1 || len(got.Tables[0].Values) != 2 {
		t.Fatalf("unexpected document: %+v", got)
	}
	if v := got.Tables[0].Values[0][1]; v != "ann <a&b>" {
		t.Errorf("got %#v", v)
	}

	if _, err := Unpack(payload, strings.Repeat("0", 32)); errors.GetCode(err) != errors.CodeChecksumMismatch {
		t.Errorf("expected CHECKSUM_MISMATCH, got %v", err)
	}
	if _, err := Unpack([]byte("not snappy"), ""); errors.GetCode(err) != errors.CodeChecksumMismatch {
		t.Errorf("expected CHECKSUM_MISMATCH for corrupt payload, got %v", err)
	}
}

func TestEncode_Nil(t *testing.T) {
	if _, err := Encode(nil); !errors.IsValidation(err) {
		t.Errorf("expected VALIDATION error, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	if got := DocumentKey("app"); got != "app.json.sz" {
		t.Errorf("DocumentKey = %q", got)
	}
	if got := FingerprintKey("app"); got != "app.json.sz.fp" {
		t.Errorf("FingerprintKey = %q", got)
	}
}

// TestProperty_FingerprintStableAcrossDecode checks that decoding an
// encoded document and encoding it again reproduces the same bytes, so a
// fingerprint taken at save time still matches after a load.
func TestProperty_FingerprintStableAcrossDecode(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("encode(decode(encode(doc))) == encode(doc)", prop.ForAll(
		func(ints []int64, strs []string, reals []float64) bool {
			row := make([]any, 0, len(ints)+len(strs)+len(reals)+1)
			for _, v := range ints {
				row = append(row, v)
			}
			for _, v := range strs {
				row = append(row, v)
			}
			for _, v := range reals {
				row = append(row, types.Real(v))
			}
			row = append(row, "<&> \u2028", nil)

			doc := &types.Document{
				Database: "p",
				Mode:     types.ModeFull,
				Tables:   []types.Table{{Name: "t", Values: [][]any{row}}},
			}
			first, err := Encode(doc)
			if err != nil {
				return false
			}
			decoded, err := Decode(first)
			if err != nil {
				return false
			}
			second, err := Encode(decoded)
			if err != nil {
				return false
			}
			return Fingerprint(first) == Fingerprint(second)
		},
		gen.SliceOf(gen.Int64()),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Float64Range(-1e12, 1e12)),
	))

	properties.TestingRun(t)
}

func TestIndent(t *testing.T) {
	raw, err := Encode(&types.Document{Database: "a", Mode: types.ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	pretty, err := Indent(raw)
	if err != nil {
		t.Fatalf("Indent() failed: %v", err)
	}
	if !bytes.Contains(pretty, []byte("\n  \"database\": \"a\"")) {
		t.Errorf("not indented: %s", pretty)
	}
	doc, err := Decode(pretty)
	if err != nil || doc.Database != "a" {
		t.Errorf("indented document does not decode: %v", err)
	}
	if _, err := Indent([]byte("{")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
