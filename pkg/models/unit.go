package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	CacheFidelityMinimal = "minimal"
	CacheFidelityFull    = "full"
)

const (
	DownloadStatusIdle       = "idle"
	DownloadStatusPending    = "pending"
	DownloadStatusInProgress = "in_progress"
	DownloadStatusCompleted  = "completed"
	DownloadStatusFailed     = "failed"
)

// Unit is a top-level content package. A minimal-fidelity unit carries
// metadata only; a full-fidelity unit also has its lessons and assets
// materialized locally.
type Unit struct {
	bun.BaseModel `bun:"table:units,alias:u"`

	ID              string     `bun:",pk" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Title           string     `bun:",nullzero" json:"title"`
	Description     *string    `json:"description,omitempty"`
	LearnerLevel    *string    `json:"learner_level,omitempty"`
	IsGlobal        bool       `json:"is_global"`
	RemoteUpdatedAt int64      `json:"remote_updated_at"`
	SchemaVersion   int        `json:"schema_version"`
	Fidelity        string     `bun:",nullzero" json:"fidelity"`
	DownloadStatus  string     `bun:",nullzero" json:"download_status"`
	DownloadedAt    *time.Time `json:"downloaded_at,omitempty"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
	Orphaned        bool       `json:"orphaned"`
	// Payload retains the server-shaped JSON verbatim for fields that aren't
	// modeled relationally. Its shape is versioned by SchemaVersion and is
	// expected to evolve independently of this client.
	Payload string `bun:",nullzero" json:"-"`

	Lessons []*Lesson `bun:"rel:has-many,join:id=unit_id" json:"lessons,omitempty"`
	Assets  []*Asset  `bun:"rel:has-many,join:id=unit_id" json:"assets,omitempty"`
}
