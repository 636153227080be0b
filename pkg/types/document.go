// Package types provides the document model exchanged by jsonsqlite.
package types

import "strings"

// Mode selects how much of a database an export captures.
type Mode string

const (
	// ModeFull exports every user table with its schema and all rows.
	ModeFull Mode = "full"

	// ModePartial exports only tables and rows changed since the last sync date.
	ModePartial Mode = "partial"
)

// Valid reports whether m is one of the recognised modes.
func (m Mode) Valid() bool {
	return m == ModeFull || m == ModePartial
}

// Document is the JSON representation of a whole database.
type Document struct {
	// Database is the logical database name
	Database string `json:"database"`

	// Version is the schema version, stored as PRAGMA user_version
	Version int `json:"version"`

	// Encrypted marks documents produced from an encrypted database
	Encrypted bool `json:"encrypted"`

	// Mode is either "full" or "partial"
	Mode Mode `json:"mode"`

	// Tables lists table descriptors in catalog order
	Tables []Table `json:"tables"`

	// Views lists view descriptors in catalog order
	Views []View `json:"views,omitempty"`
}

// Template returns a copy of d carrying only the header fields.
func (d *Document) Template() Document {
	return Document{
		Database:  d.Database,
		Version:   d.Version,
		Encrypted: d.Encrypted,
		Mode:      d.Mode,
	}
}

// Table describes one table: its columns, indexes, triggers and rows.
type Table struct {
	// Name is the table name, unique within a document
	Name string `json:"name"`

	// Schema lists column, constraint and foreign key descriptors in declaration order
	Schema []Column `json:"schema,omitempty"`

	// Indexes lists the table's indexes
	Indexes []Index `json:"indexes,omitempty"`

	// Triggers lists the table's triggers
	Triggers []Trigger `json:"triggers,omitempty"`

	// Values holds rows positionally aligned to the table's columns
	Values [][]any `json:"values,omitempty"`
}

// AttributeGroups counts the populated attribute groups, name included.
func (t *Table) AttributeGroups() int {
	n := 0
	if t.Name != "" {
		n++
	}
	if len(t.Schema) > 0 {
		n++
	}
	if len(t.Indexes) > 0 {
		n++
	}
	if len(t.Triggers) > 0 {
		n++
	}
	if len(t.Values) > 0 {
		n++
	}
	return n
}

// Column is one fragment of a CREATE TABLE column list. Exactly one of
// Column, Constraint or ForeignKey is set.
type Column struct {
	// Column is the column name of a plain column definition
	Column string `json:"column,omitempty"`

	// Constraint is the name of a table constraint
	Constraint string `json:"constraint,omitempty"`

	// ForeignKey is the referencing column list of a FOREIGN KEY clause
	ForeignKey string `json:"foreignkey,omitempty"`

	// Value is the remainder of the fragment: a type and constraints, a
	// constraint body, or a REFERENCES clause
	Value string `json:"value"`
}

// Kind names which variant of the descriptor is set.
func (c Column) Kind() string {
	switch {
	case c.Column != "":
		return "column"
	case c.Constraint != "":
		return "constraint"
	case c.ForeignKey != "":
		return "foreignkey"
	default:
		return ""
	}
}

// IsTableConstraint reports whether a plain fragment is in fact an unnamed
// table constraint such as PRIMARY KEY (a, b), UNIQUE (a, b) or CHECK (a > 0).
// Such fragments hold no column. A quoted leading word is always a column
// name.
func (c Column) IsTableConstraint() bool {
	if c.Column == "" {
		return false
	}
	value := strings.TrimSpace(c.Value)
	switch strings.ToUpper(c.Column) {
	case "PRIMARY":
		return len(value) >= 3 && strings.EqualFold(value[:3], "KEY")
	case "UNIQUE", "CHECK":
		return strings.HasPrefix(value, "(")
	default:
		return false
	}
}

// Index describes a CREATE INDEX statement.
type Index struct {
	Name string `json:"name"`
	// Mode is "UNIQUE" or empty
	Mode  string `json:"mode,omitempty"`
	Value string `json:"value"`
}

// IndexModeUnique marks a unique index.
const IndexModeUnique = "UNIQUE"

// Trigger describes a CREATE TRIGGER statement.
type Trigger struct {
	Name string `json:"name"`
	// TimeEvent is e.g. "BEFORE INSERT" or "AFTER UPDATE OF name"
	TimeEvent string `json:"timeevent"`
	// Condition is the text between the table name and BEGIN, such as a WHEN clause
	Condition string `json:"condition,omitempty"`
	// Logic is the trigger body starting with BEGIN
	Logic string `json:"logic"`
}

// View describes a CREATE VIEW statement.
type View struct {
	Name string `json:"name"`
	// Columns is the column list of CREATE VIEW name(a, b), if any
	Columns string `json:"columns,omitempty"`
	Value   string `json:"value"`
}
