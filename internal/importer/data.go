package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jsonsqlite/jsonsqlite/internal/catalog"
	"github.com/jsonsqlite/jsonsqlite/internal/ddl"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// dropAll removes every user view, trigger, index and table.
func dropAll(ctx context.Context, tx *sql.Tx) error {
	views, err := catalog.Views(ctx, tx)
	if err != nil {
		return err
	}
	for _, v := range views {
		if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+ddl.QuoteIdent(v.Name)); err != nil {
			return errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to drop view %q", v.Name), err)
		}
	}
	tables, err := catalog.Tables(ctx, tx)
	if err != nil {
		return err
	}
	// triggers and indexes go with their table
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ddl.QuoteIdent(t.Name)); err != nil {
			return errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to drop table %q", t.Name), err)
		}
	}
	return nil
}

// createTableData writes the rows of t. Full mode inserts; partial mode
// updates rows whose first column matches and inserts the rest.
func (im *Importer) createTableData(ctx context.Context, tx *sql.Tx, mode types.Mode, t *types.Table) (int64, error) {
	if len(t.Values) == 0 {
		return 0, nil
	}
	cols, err := catalog.ColumnNames(ctx, tx, t.Name)
	if err != nil {
		return 0, err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ddl.QuoteIdent(c)
	}
	insert, err := tx.PrepareContext(ctx, "INSERT INTO "+ddl.QuoteIdent(t.Name)+" ("+strings.Join(quoted, ", ")+") VALUES ("+placeholders(len(cols))+")")
	if err != nil {
		return 0, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to prepare insert into %q", t.Name), err)
	}
	defer insert.Close()

	var exists, update *sql.Stmt
	if mode == types.ModePartial {
		key := quoted[0] + " = ?"
		if exists, err = tx.PrepareContext(ctx, "SELECT count(*) FROM "+ddl.QuoteIdent(t.Name)+" WHERE "+key); err != nil {
			return 0, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to prepare lookup in %q", t.Name), err)
		}
		defer exists.Close()
		if len(cols) > 1 {
			sets := make([]string, len(cols)-1)
			for i, q := range quoted[1:] {
				sets[i] = q + " = ?"
			}
			if update, err = tx.PrepareContext(ctx, "UPDATE "+ddl.QuoteIdent(t.Name)+" SET "+strings.Join(sets, ", ")+" WHERE "+key); err != nil {
				return 0, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to prepare update of %q", t.Name), err)
			}
			defer update.Close()
		}
	}

	var changes int64
	for i, row := range t.Values {
		if len(row) != len(cols) {
			return 0, errors.NewValidationError(errors.CodeInvalidRow,
				fmt.Sprintf("table %q: values[%d]: row has %d values, table has %d columns", t.Name, i, len(row), len(cols)))
		}
		args := make([]any, len(row))
		for j, v := range row {
			if args[j], err = bindValue(v); err != nil {
				return 0, errors.NewValidationError(errors.CodeInvalidRow,
					fmt.Sprintf("table %q: values[%d][%d]: %v", t.Name, i, j, err))
			}
		}

		stmt, stmtArgs := insert, args
		if exists != nil {
			var n int64
			if err := exists.QueryRowContext(ctx, args[0]).Scan(&n); err != nil {
				return 0, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to look up row %d of %q", i, t.Name), err)
			}
			if n > 0 {
				if update == nil {
					continue
				}
				stmt, stmtArgs = update, append(args[1:len(args):len(args)], args[0])
			}
		}
		res, err := stmt.ExecContext(ctx, stmtArgs...)
		if err != nil {
			return 0, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("failed to write row %d of %q", i, t.Name), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			changes += n
		}
	}
	return changes, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// bindValue converts a document value into a driver argument. Integral JSON
// numbers bind as INTEGER, the rest as REAL.
func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x)
		}
		return f, nil
	case types.Real:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("value of type %T is not string/null/integer/double", v)
	}
}
