package exporter

import (
	"context"

	"github.com/jsonsqlite/jsonsqlite/internal/catalog"
	"github.com/jsonsqlite/jsonsqlite/internal/ddl"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// PartialModeData reads the sync date and classifies every user table by
// comparing its row count with the count of rows modified after that date.
func (e *Exporter) PartialModeData(ctx context.Context, q catalog.Querier) (*types.PartialModeData, error) {
	data, err := partialModeData(ctx, q)
	if err != nil {
		return nil, errors.WithStage(err, "GetPartialModeData")
	}
	return data, nil
}

func partialModeData(ctx context.Context, q catalog.Querier) (*types.PartialModeData, error) {
	syncDate, err := catalog.SyncDate(ctx, q)
	if err != nil {
		return nil, errors.WithStage(err, "GetSyncDate")
	}
	if syncDate == types.NoSyncDate {
		return nil, errors.NewStateError(errors.CodeMissingSyncDate, "did not find a sync_date")
	}

	tables, err := catalog.Tables(ctx, q)
	if err != nil {
		return nil, errors.WithStage(err, "GetTablesModified")
	}
	changes, err := tablesModified(ctx, q, tables, syncDate)
	if err != nil {
		return nil, errors.WithStage(err, "GetTablesModified")
	}
	return &types.PartialModeData{SyncDate: syncDate, Changes: changes}, nil
}

func tablesModified(ctx context.Context, q catalog.Querier, tables []catalog.Object, syncDate int64) (map[string]types.TableChange, error) {
	changes := make(map[string]types.TableChange, len(tables))
	for _, t := range tables {
		total, err := catalog.RowCount(ctx, q, t.Name, "")
		if err != nil {
			return nil, err
		}
		modified, err := catalog.RowCount(ctx, q, t.Name, ddl.QuoteIdent(LastModifiedColumn)+" > ?", syncDate)
		if err != nil {
			return nil, err
		}
		changes[t.Name] = types.Classify(total, modified)
	}
	return changes, nil
}
