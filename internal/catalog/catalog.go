// Package catalog reads SQLite's schema catalog (sqlite_master and the
// table_info pragma) and maintains the sync_table bookkeeping table.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jsonsqlite/jsonsqlite/internal/ddl"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx the catalog needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Object is one sqlite_master entry.
type Object struct {
	Type      string
	Name      string
	TableName string
	SQL       string
}

// ColumnInfo is one row of PRAGMA table_info.
type ColumnInfo struct {
	CID        int
	Name       string
	Type       string
	NotNull    bool
	Default    sql.NullString
	PrimaryKey int
}

// SyncTableName is the bookkeeping table holding the last sync date.
const SyncTableName = "sync_table"

// userTablesFilter excludes SQLite internals, platform tables and the sync table.
const userTablesFilter = "name NOT LIKE 'sqlite_%' AND name NOT LIKE 'android_%' AND name NOT LIKE '" + SyncTableName + "'"

func queryFailed(what string, err error) *errors.Error {
	return errors.NewQueryError(errors.CodeQueryFailed, what, err)
}

// Tables lists user tables in catalog order.
func Tables(ctx context.Context, q Querier) ([]Object, error) {
	return objects(ctx, q, "SELECT type, name, tbl_name, sql FROM sqlite_master WHERE type = 'table' AND sql NOTNULL AND "+userTablesFilter+" ORDER BY rowid")
}

// Views lists views in catalog order.
func Views(ctx context.Context, q Querier) ([]Object, error) {
	return objects(ctx, q, "SELECT type, name, tbl_name, sql FROM sqlite_master WHERE type = 'view' AND sql NOTNULL ORDER BY rowid")
}

// Indexes lists the explicitly created indexes of table. Automatic indexes
// backing PRIMARY KEY and UNIQUE constraints have no SQL and are skipped.
func Indexes(ctx context.Context, q Querier, table string) ([]Object, error) {
	return ownedObjects(ctx, q, "index", table)
}

// Triggers lists the triggers of table.
func Triggers(ctx context.Context, q Querier, table string) ([]Object, error) {
	return ownedObjects(ctx, q, "trigger", table)
}

func ownedObjects(ctx context.Context, q Querier, typ, table string) ([]Object, error) {
	objs, err := objects(ctx, q, "SELECT type, name, tbl_name, sql FROM sqlite_master WHERE type = ? AND tbl_name = ? AND sql NOTNULL ORDER BY rowid", typ, table)
	if err != nil {
		return nil, err
	}
	for _, o := range objs {
		if !strings.EqualFold(o.TableName, table) {
			return nil, errors.NewStateError(errors.CodeTableMismatch,
				fmt.Sprintf("%s %q belongs to table %q, not %q", typ, o.Name, o.TableName, table))
		}
	}
	return objs, nil
}

func objects(ctx context.Context, q Querier, query string, args ...any) ([]Object, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryFailed("failed to query sqlite_master", err)
	}
	defer rows.Close()

	var objs []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Type, &o.Name, &o.TableName, &o.SQL); err != nil {
			return nil, errors.NewQueryError(errors.CodeUnexpectedRow, "failed to scan sqlite_master row", err)
		}
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("failed to iterate sqlite_master", err)
	}
	return objs, nil
}

// Columns returns the columns of table in declaration order.
func Columns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+ddl.QuoteIdent(table)+")")
	if err != nil {
		return nil, queryFailed(fmt.Sprintf("failed to read columns of %q", table), err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var typ sql.NullString
		if err := rows.Scan(&c.CID, &c.Name, &typ, &c.NotNull, &c.Default, &c.PrimaryKey); err != nil {
			return nil, errors.NewQueryError(errors.CodeUnexpectedRow, fmt.Sprintf("failed to scan column of %q", table), err)
		}
		c.Type = typ.String
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed(fmt.Sprintf("failed to iterate columns of %q", table), err)
	}
	if len(cols) == 0 {
		return nil, errors.NewStateError(errors.CodeTableMismatch, fmt.Sprintf("table %q does not exist", table))
	}
	return cols, nil
}

// ColumnNames returns the column names of table in declaration order.
func ColumnNames(ctx context.Context, q Querier, table string) ([]string, error) {
	cols, err := Columns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// HasColumn reports whether table has a column named column.
func HasColumn(ctx context.Context, q Querier, table, column string) (bool, error) {
	cols, err := Columns(ctx, q, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, column) {
			return true, nil
		}
	}
	return false, nil
}

// TableExists reports whether a table named table exists.
func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	if err := queryRow(ctx, q, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}, &n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// RowCount counts rows of table, optionally restricted by a WHERE clause.
func RowCount(ctx context.Context, q Querier, table, where string, args ...any) (int64, error) {
	query := "SELECT count(*) FROM " + ddl.QuoteIdent(table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int64
	if err := queryRow(ctx, q, query, args, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// queryRow runs a single-row query. Querier has no QueryRowContext on all
// implementations, so the row is read through QueryContext.
func queryRow(ctx context.Context, q Querier, query string, args []any, dest ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return queryFailed("query failed", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return queryFailed("query failed", err)
		}
		return errors.NewQueryError(errors.CodeUnexpectedRow, "query returned no rows", sql.ErrNoRows)
	}
	if err := rows.Scan(dest...); err != nil {
		return errors.NewQueryError(errors.CodeUnexpectedRow, "failed to scan row", err)
	}
	return rows.Close()
}

// UserVersion returns PRAGMA user_version.
func UserVersion(ctx context.Context, q Querier) (int, error) {
	var v int
	if err := queryRow(ctx, q, "PRAGMA user_version", nil, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// SetUserVersion sets PRAGMA user_version.
func SetUserVersion(ctx context.Context, q Querier, version int) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return queryFailed("failed to set user_version", err)
	}
	return nil
}
