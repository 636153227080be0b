package types

// NoSyncDate is the sync date reported when no sync has ever occurred.
const NoSyncDate int64 = -1

// TableChange classifies a table relative to the last sync date.
type TableChange string

const (
	// ChangeNone means no row changed since the sync date.
	ChangeNone TableChange = "No"

	// ChangeCreate means every row changed, so the table is new since the sync date.
	ChangeCreate TableChange = "Create"

	// ChangeModified means a strict subset of rows changed.
	ChangeModified TableChange = "Modified"
)

// PartialModeData holds the sync date and per-table classification of a partial export.
type PartialModeData struct {
	SyncDate int64                  `json:"sync_date"`
	Changes  map[string]TableChange `json:"changes"`
}

// Classify derives a table's change class from its total and modified row counts.
func Classify(total, modified int64) TableChange {
	switch {
	case modified == 0:
		return ChangeNone
	case modified == total:
		return ChangeCreate
	default:
		return ChangeModified
	}
}
