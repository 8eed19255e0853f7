package sync

import (
	"time"

	"github.com/tangolearn/tango/pkg/models"
)

// mergeUnit folds an incoming unit into the locally cached row. Remote-owned
// fields always take the incoming value; locally-owned state (fidelity,
// download progress, stored payload when the pull omitted one) survives the
// merge. A unit seen in a pull is by definition not orphaned.
func mergeUnit(existing *models.Unit, incoming *UnitPayload, now time.Time) *models.Unit {
	unit := &models.Unit{
		ID:              incoming.ID,
		Title:           incoming.Title,
		Description:     incoming.Description,
		LearnerLevel:    incoming.LearnerLevel,
		IsGlobal:        incoming.IsGlobal,
		RemoteUpdatedAt: incoming.UpdatedAt,
		SchemaVersion:   incoming.SchemaVersion,
		Fidelity:        models.CacheFidelityMinimal,
		DownloadStatus:  models.DownloadStatusIdle,
		SyncedAt:        &now,
		Orphaned:        false,
	}

	if incoming.Payload != nil {
		unit.Payload = *incoming.Payload
	}

	if existing != nil {
		unit.CreatedAt = existing.CreatedAt
		unit.Fidelity = existing.Fidelity
		unit.DownloadStatus = existing.DownloadStatus
		unit.DownloadedAt = existing.DownloadedAt
		if incoming.Payload == nil {
			unit.Payload = existing.Payload
		}
	}

	return unit
}

func mergeLesson(existing *models.Lesson, incoming *LessonPayload) *models.Lesson {
	lesson := &models.Lesson{
		ID:              incoming.ID,
		UnitID:          incoming.UnitID,
		Title:           incoming.Title,
		Position:        incoming.Position,
		RemoteUpdatedAt: incoming.UpdatedAt,
		SchemaVersion:   incoming.SchemaVersion,
	}

	if incoming.Payload != nil {
		lesson.Payload = *incoming.Payload
	}

	if existing != nil {
		lesson.CreatedAt = existing.CreatedAt
		if incoming.Payload == nil {
			lesson.Payload = existing.Payload
		}
	}

	return lesson
}

// mergeAsset folds an incoming asset into the cached row. The downloaded file
// stays valid only when the remote bytes are provably unchanged, which
// requires both the checksum and the remote timestamp to match; otherwise the
// local copy is invalidated so the next resolve re-downloads.
func mergeAsset(existing *models.Asset, incoming *AssetPayload) *models.Asset {
	asset := &models.Asset{
		ID:              incoming.ID,
		UnitID:          incoming.UnitID,
		MediaType:       incoming.MediaType,
		RemoteURI:       incoming.RemoteURI,
		Checksum:        incoming.Checksum,
		RemoteUpdatedAt: incoming.UpdatedAt,
		DownloadStatus:  models.DownloadStatusPending,
	}

	if existing == nil {
		return asset
	}

	asset.CreatedAt = existing.CreatedAt

	unchanged := existing.RemoteUpdatedAt == incoming.UpdatedAt &&
		checksumEqual(existing.Checksum, incoming.Checksum)
	if unchanged {
		asset.LocalPath = existing.LocalPath
		asset.DownloadStatus = existing.DownloadStatus
		asset.DownloadedAt = existing.DownloadedAt
	}

	return asset
}

func checksumEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
