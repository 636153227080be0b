package ddl

import (
	"strings"

	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// QuoteIdent quotes name as an SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnFragment renders one column descriptor as a column definition or
// table constraint.
func ColumnFragment(c types.Column) string {
	var frag string
	switch c.Kind() {
	case "constraint":
		frag = "CONSTRAINT " + c.Constraint + " " + c.Value
	case "foreignkey":
		frag = "FOREIGN KEY (" + c.ForeignKey + ") " + c.Value
	default:
		frag = c.Column + " " + c.Value
	}
	return strings.TrimSpace(frag)
}

// CreateTable renders a CREATE TABLE statement from column descriptors,
// keeping their order.
func CreateTable(table string, cols []types.Column) string {
	frags := make([]string, len(cols))
	for i, c := range cols {
		frags[i] = ColumnFragment(c)
	}
	return "CREATE TABLE IF NOT EXISTS " + QuoteIdent(table) + " (" + strings.Join(frags, ", ") + ")"
}

// CreateIndex renders a CREATE INDEX statement.
func CreateIndex(table string, idx types.Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if strings.EqualFold(idx.Mode, types.IndexModeUnique) {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX IF NOT EXISTS ")
	b.WriteString(QuoteIdent(idx.Name))
	b.WriteString(" ON ")
	b.WriteString(QuoteIdent(table))
	b.WriteString(" (")
	b.WriteString(idx.Value)
	b.WriteString(")")
	return b.String()
}

// CreateTrigger renders a CREATE TRIGGER statement.
func CreateTrigger(table string, tr types.Trigger) string {
	var b strings.Builder
	b.WriteString("CREATE TRIGGER IF NOT EXISTS ")
	b.WriteString(QuoteIdent(tr.Name))
	b.WriteString(" ")
	b.WriteString(tr.TimeEvent)
	b.WriteString(" ON ")
	b.WriteString(QuoteIdent(table))
	b.WriteString(" ")
	if tr.Condition != "" {
		b.WriteString(tr.Condition)
		b.WriteString(" ")
	}
	b.WriteString(tr.Logic)
	return b.String()
}

// CreateView renders a CREATE VIEW statement.
func CreateView(v types.View) string {
	name := QuoteIdent(v.Name)
	if v.Columns != "" {
		name += "(" + v.Columns + ")"
	}
	return "CREATE VIEW IF NOT EXISTS " + name + " AS " + v.Value
}
