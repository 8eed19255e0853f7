package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Metadata keys for scalar sync state.
const (
	MetaLastCursor     = "last_cursor"
	MetaLastSyncedAt   = "last_synced_at"
	MetaLastSyncResult = "last_sync_result"
	MetaLastSyncError  = "last_sync_error"
)

const (
	SyncResultSuccess = "success"
	SyncResultError   = "error"
)

// Metadata is a key/value store for scalar sync state, read at startup to
// resume from the last persisted cursor.
type Metadata struct {
	bun.BaseModel `bun:"table:metadata,alias:m"`

	Key       string    `bun:",pk" json:"key"`
	Value     string    `bun:",nullzero" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
