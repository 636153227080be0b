package exporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/jsonsqlite/jsonsqlite/internal/catalog"
	"github.com/jsonsqlite/jsonsqlite/internal/ddl"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// values reads the rows of table in catalog column order. Each column is
// selected as a unary-plus expression so the driver returns the stored
// value without declared-type conversions (DATETIME to time.Time and so on).
func (e *Exporter) values(ctx context.Context, q catalog.Querier, table, where string, args ...any) ([][]any, error) {
	names, err := catalog.ColumnNames(ctx, q, table)
	if err != nil {
		return nil, err
	}
	exprs := make([]string, len(names))
	for i, n := range names {
		exprs[i] = "+" + ddl.QuoteIdent(n) + " AS " + ddl.QuoteIdent(n)
	}
	query := "SELECT " + strings.Join(exprs, ", ") + " FROM " + ddl.QuoteIdent(table)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to select rows of %q", table), err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.NewQueryError(errors.CodeUnexpectedRow, fmt.Sprintf("failed to scan row of %q", table), err)
		}
		row := make([]any, len(raw))
		for i, v := range raw {
			if row[i], err = exportValue(v); err != nil {
				return nil, errors.NewQueryError(errors.CodeUnsupportedValue,
					fmt.Sprintf("table %q column %q: value is not string/null/integer/double (got %T)", table, names[i], v), nil)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to iterate rows of %q", table), err)
	}
	return out, nil
}

var errUnsupported = fmt.Errorf("unsupported value")

// exportValue maps a driver value onto a document value: NULL, 64-bit
// integer, text or floating point.
func exportValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return x, nil
	case string:
		return x, nil
	case float64:
		return types.Real(x), nil
	default:
		return nil, errUnsupported
	}
}
