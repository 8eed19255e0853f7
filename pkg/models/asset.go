package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	MediaTypeAudio = "audio"
	MediaTypeImage = "image"
)

// Asset is a binary content file (audio clip or image) belonging to one Unit.
// LocalPath is nil until the file has been materialized on disk; a recorded
// path whose file has been deleted externally is treated as stale and
// re-resolved on next access.
type Asset struct {
	bun.BaseModel `bun:"table:assets,alias:a"`

	ID              string     `bun:",pk" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	UnitID          string     `bun:",nullzero" json:"unit_id"`
	MediaType       string     `bun:",nullzero" json:"media_type"`
	RemoteURI       string     `bun:",nullzero" json:"remote_uri"`
	Checksum        *string    `json:"checksum,omitempty"`
	RemoteUpdatedAt int64      `json:"remote_updated_at"`
	LocalPath       *string    `json:"local_path,omitempty"`
	DownloadStatus  string     `bun:",nullzero" json:"download_status"`
	DownloadedAt    *time.Time `json:"downloaded_at,omitempty"`
}

// TargetFilename returns the deterministic on-disk name for this asset,
// derived from its ID and media type.
func (a *Asset) TargetFilename() string {
	ext := ".bin"
	switch a.MediaType {
	case MediaTypeAudio:
		ext = ".mp3"
	case MediaTypeImage:
		ext = ".jpg"
	}
	return a.ID + ext
}
