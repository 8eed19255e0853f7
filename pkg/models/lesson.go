package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Lesson belongs to exactly one Unit. Position defines display order; it is
// not required to be unique but must be stable for consistent ordering.
type Lesson struct {
	bun.BaseModel `bun:"table:lessons,alias:l"`

	ID              string    `bun:",pk" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	UnitID          string    `bun:",nullzero" json:"unit_id"`
	Title           string    `bun:",nullzero" json:"title"`
	Position        int       `json:"position"`
	RemoteUpdatedAt int64     `json:"remote_updated_at"`
	SchemaVersion   int       `json:"schema_version"`
	Payload         string    `bun:",nullzero" json:"-"`
}
