package catalog

import (
	"context"
	"time"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// CreateSyncTable creates sync_table and seeds it with the current time
// when it does not exist yet. It returns the number of rows changed.
func CreateSyncTable(ctx context.Context, q Querier, now time.Time) (int64, error) {
	exists, err := TableExists(ctx, q, SyncTableName)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}
	if _, err := q.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+SyncTableName+" (id INTEGER PRIMARY KEY NOT NULL, sync_date INTEGER)"); err != nil {
		return 0, queryFailed("failed to create sync_table", err)
	}
	res, err := q.ExecContext(ctx, "INSERT INTO "+SyncTableName+" (sync_date) VALUES (?)", now.Unix())
	if err != nil {
		return 0, queryFailed("failed to seed sync_table", err)
	}
	return res.RowsAffected()
}

// SetSyncDate stores epoch as the last sync date.
func SetSyncDate(ctx context.Context, q Querier, epoch int64) error {
	exists, err := TableExists(ctx, q, SyncTableName)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NewStateError(errors.CodeMissingSyncDate, "sync_table does not exist")
	}
	res, err := q.ExecContext(ctx, "UPDATE "+SyncTableName+" SET sync_date = ? WHERE id = 1", epoch)
	if err != nil {
		return queryFailed("failed to update sync_date", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := q.ExecContext(ctx, "INSERT INTO "+SyncTableName+" (id, sync_date) VALUES (1, ?)", epoch); err != nil {
			return queryFailed("failed to insert sync_date", err)
		}
	}
	return nil
}

// SyncDate returns the stored sync date, or types.NoSyncDate when the
// table, its row or a positive value is missing.
func SyncDate(ctx context.Context, q Querier) (int64, error) {
	exists, err := TableExists(ctx, q, SyncTableName)
	if err != nil {
		return types.NoSyncDate, err
	}
	if !exists {
		return types.NoSyncDate, nil
	}
	rows, err := q.QueryContext(ctx, "SELECT sync_date FROM "+SyncTableName+" ORDER BY id LIMIT 1")
	if err != nil {
		return types.NoSyncDate, queryFailed("failed to read sync_date", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return types.NoSyncDate, rows.Err()
	}
	var date *int64
	if err := rows.Scan(&date); err != nil {
		return types.NoSyncDate, errors.NewQueryError(errors.CodeUnexpectedRow, "failed to scan sync_date", err)
	}
	if date == nil || *date <= 0 {
		return types.NoSyncDate, nil
	}
	return *date, nil
}
