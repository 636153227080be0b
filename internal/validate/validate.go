// Package validate checks the structure of documents and their
// descriptors. All checks are stateless; each failure is a VALIDATION error
// naming the entity and field at fault.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

func invalid(code, entity, field, format string, args ...interface{}) *errors.Error {
	msg := fmt.Sprintf(format, args...)
	if field != "" {
		msg = field + ": " + msg
	}
	return errors.NewValidationError(code, entity+": "+msg).
		WithDetails(map[string]interface{}{"entity": entity, "field": field})
}

// Document validates the document header and every table and view.
func Document(doc *types.Document) error {
	if doc == nil {
		return invalid(errors.CodeInvalidDocument, "document", "", "is nil")
	}
	entity := fmt.Sprintf("document %q", doc.Database)
	if strings.TrimSpace(doc.Database) == "" {
		return invalid(errors.CodeInvalidDocument, entity, "database", "is required")
	}
	if doc.Version < 0 {
		return invalid(errors.CodeInvalidDocument, entity, "version", "must not be negative (got %d)", doc.Version)
	}
	if !doc.Mode.Valid() {
		return invalid(errors.CodeInvalidMode, entity, "mode", "must be %q or %q (got %q)", types.ModeFull, types.ModePartial, doc.Mode)
	}
	if len(doc.Tables) == 0 {
		return invalid(errors.CodeInvalidDocument, entity, "tables", "must contain at least one table")
	}

	seen := make(map[string]bool, len(doc.Tables))
	for i := range doc.Tables {
		t := &doc.Tables[i]
		if err := Table(t); err != nil {
			return err
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return invalid(errors.CodeInvalidTable, entity, fmt.Sprintf("tables[%d]", i), "duplicate table name %q", t.Name)
		}
		seen[key] = true
	}
	return Views(doc.Views)
}

// Table validates a table descriptor. A table needs a name and at least one
// other populated attribute group.
func Table(t *types.Table) error {
	entity := fmt.Sprintf("table %q", t.Name)
	if strings.TrimSpace(t.Name) == "" {
		return invalid(errors.CodeInvalidTable, entity, "name", "is required")
	}
	if t.AttributeGroups() < 2 {
		return invalid(errors.CodeInvalidTable, entity, "", "is not a jsonTable")
	}
	if len(t.Schema) > 0 {
		if err := Columns(t.Name, t.Schema); err != nil {
			return err
		}
	}
	if err := Indexes(t.Name, t.Indexes); err != nil {
		return err
	}
	if err := Triggers(t.Name, t.Triggers); err != nil {
		return err
	}
	return Rows(t)
}

// Columns validates column descriptors. Exactly one of column, constraint
// or foreignkey must be set on each, and the list must not be empty.
func Columns(table string, cols []types.Column) error {
	entity := fmt.Sprintf("table %q", table)
	if len(cols) == 0 {
		return invalid(errors.CodeInvalidColumn, entity, "schema", "is empty")
	}
	for i, c := range cols {
		field := fmt.Sprintf("schema[%d]", i)
		set := 0
		for _, v := range []string{c.Column, c.Constraint, c.ForeignKey} {
			if v != "" {
				set++
			}
		}
		switch {
		case set == 0:
			return invalid(errors.CodeInvalidColumn, entity, field, "none of column, constraint or foreignkey is set")
		case set > 1:
			return invalid(errors.CodeInvalidColumn, entity, field, "more than one of column, constraint or foreignkey is set")
		case c.Column == "" && strings.TrimSpace(c.Value) == "":
			return invalid(errors.CodeInvalidColumn, entity, field, "%s %q has no value", c.Kind(), c.Constraint+c.ForeignKey)
		}
	}
	return nil
}

// Indexes validates index descriptors.
func Indexes(table string, idxs []types.Index) error {
	entity := fmt.Sprintf("table %q", table)
	for i, idx := range idxs {
		field := fmt.Sprintf("indexes[%d]", i)
		switch {
		case strings.TrimSpace(idx.Name) == "":
			return invalid(errors.CodeInvalidIndex, entity, field, "name is required")
		case strings.TrimSpace(idx.Value) == "":
			return invalid(errors.CodeInvalidIndex, entity, field, "index %q has no value", idx.Name)
		case idx.Mode != "" && !strings.EqualFold(idx.Mode, types.IndexModeUnique):
			return invalid(errors.CodeInvalidIndex, entity, field, "index %q has unknown mode %q", idx.Name, idx.Mode)
		}
	}
	return nil
}

// Triggers validates trigger descriptors. Logic must start with BEGIN.
func Triggers(table string, trs []types.Trigger) error {
	entity := fmt.Sprintf("table %q", table)
	for i, tr := range trs {
		field := fmt.Sprintf("triggers[%d]", i)
		switch {
		case strings.TrimSpace(tr.Name) == "":
			return invalid(errors.CodeInvalidTrigger, entity, field, "name is required")
		case strings.TrimSpace(tr.TimeEvent) == "":
			return invalid(errors.CodeInvalidTrigger, entity, field, "trigger %q has no timeevent", tr.Name)
		case !hasKeywordPrefix(tr.Logic, "BEGIN"):
			return invalid(errors.CodeInvalidTrigger, entity, field, "trigger %q logic must start with BEGIN", tr.Name)
		}
	}
	return nil
}

// Views validates view descriptors.
func Views(views []types.View) error {
	seen := make(map[string]bool, len(views))
	for i, v := range views {
		entity := fmt.Sprintf("view %q", v.Name)
		field := fmt.Sprintf("views[%d]", i)
		switch {
		case strings.TrimSpace(v.Name) == "":
			return invalid(errors.CodeInvalidView, entity, field, "name is required")
		case strings.TrimSpace(v.Value) == "":
			return invalid(errors.CodeInvalidView, entity, field, "has no value")
		case seen[strings.ToLower(v.Name)]:
			return invalid(errors.CodeInvalidView, entity, field, "duplicate view name")
		}
		seen[strings.ToLower(v.Name)] = true
	}
	return nil
}

// Rows checks row values. When the table has a schema every row must have
// one value per plain column.
func Rows(t *types.Table) error {
	entity := fmt.Sprintf("table %q", t.Name)
	width := 0
	for _, c := range t.Schema {
		if c.Column != "" && !c.IsTableConstraint() {
			width++
		}
	}
	for i, row := range t.Values {
		field := fmt.Sprintf("values[%d]", i)
		if len(row) == 0 {
			return invalid(errors.CodeInvalidRow, entity, field, "row is empty")
		}
		if width > 0 && len(row) != width {
			return invalid(errors.CodeInvalidRow, entity, field, "row has %d values, schema has %d columns", len(row), width)
		}
		for j, v := range row {
			if !ValueSupported(v) {
				return invalid(errors.CodeInvalidRow, entity, fmt.Sprintf("%s[%d]", field, j), "value of type %T is not string/null/integer/double", v)
			}
		}
	}
	return nil
}

// ValueSupported reports whether v is a value a document row may hold.
func ValueSupported(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number, float64, float32, types.Real,
		int, int8, int16, int32, int64, uint8, uint16, uint32:
		return true
	default:
		return false
	}
}

func hasKeywordPrefix(s, kw string) bool {
	s = strings.TrimSpace(s)
	if len(s) < len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return false
	}
	if len(s) == len(kw) {
		return true
	}
	next := s[len(kw)]
	return next == ' ' || next == '\t' || next == '\n' || next == '\r'
}
