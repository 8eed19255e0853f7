package assets

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/filestore"
	"github.com/tangolearn/tango/pkg/models"
)

// Resolver guarantees a usable local file for an asset, downloading it on
// demand and recording the resulting path. Download failures are reported
// through the returned asset's status, never as an error, so callers can
// decide whether to retry now or defer.
type Resolver struct {
	cfg          *config.Config
	log          logger.Logger
	cacheService *cache.Service
	files        *filestore.Store
}

func NewResolver(cfg *config.Config, cacheService *cache.Service, files *filestore.Store) *Resolver {
	return &Resolver{
		cfg:          cfg,
		log:          logger.New(),
		cacheService: cacheService,
		files:        files,
	}
}

// Resolve returns the asset with a usable local file when possible. A
// recorded path whose file was deleted externally is treated as stale and
// re-downloaded. The stored local path is never cleared on failure, so a
// future resolve can retry.
func (r *Resolver) Resolve(ctx context.Context, assetID string) (*models.Asset, error) {
	asset, err := r.cacheService.RetrieveAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if asset.LocalPath != nil {
		info, err := r.files.Info(*asset.LocalPath)
		if err != nil {
			return nil, err
		}
		if info.Exists {
			return asset, nil
		}
	}

	targetPath := filepath.Join(r.cfg.AssetDir, asset.TargetFilename())

	result, err := r.files.Download(ctx, asset.RemoteURI, targetPath, true)
	if err != nil {
		r.log.Err(err).Warn("asset download failed", logger.Data{"asset_id": asset.ID, "remote_uri": asset.RemoteURI})

		asset.DownloadStatus = models.DownloadStatusFailed
		if updateErr := r.cacheService.UpdateAssetLocation(ctx, asset.ID, asset.LocalPath, models.DownloadStatusFailed, asset.DownloadedAt); updateErr != nil {
			return nil, updateErr
		}
		return asset, nil
	}

	if result.Status == filestore.DownloadStatusDownloaded {
		r.verifyMediaType(asset, targetPath)
	}

	now := time.Now()
	err = r.cacheService.UpdateAssetLocation(ctx, asset.ID, &targetPath, models.DownloadStatusCompleted, &now)
	if err != nil {
		return nil, err
	}

	asset.LocalPath = &targetPath
	asset.DownloadStatus = models.DownloadStatusCompleted
	asset.DownloadedAt = &now

	return asset, nil
}

// DownloadUnitAssets resolves every asset of a unit concurrently with
// independent failure containment: one asset's failure never aborts the
// others, and the unit is marked completed regardless of individual outcomes.
// Partially failed assets self-heal on the next resolve.
func (r *Resolver) DownloadUnitAssets(ctx context.Context, unitID string) error {
	unit, err := r.cacheService.RetrieveUnit(ctx, unitID)
	if err != nil {
		return err
	}

	unit.DownloadStatus = models.DownloadStatusInProgress
	err = r.cacheService.UpdateUnit(ctx, unit, cache.UpdateUnitOptions{
		Columns: []string{"download_status"},
	})
	if err != nil {
		return err
	}

	unitAssets, err := r.cacheService.ListAssets(ctx, unitID)
	if err != nil {
		return err
	}

	concurrency := r.cfg.DownloadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, asset := range unitAssets {
		wg.Add(1)
		go func(assetID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resolved, err := r.Resolve(ctx, assetID)
			if err != nil {
				r.log.Err(err).Error("asset resolve error", logger.Data{"asset_id": assetID, "unit_id": unitID})
				return
			}
			if resolved.DownloadStatus == models.DownloadStatusFailed {
				r.log.Warn("asset left in failed state", logger.Data{"asset_id": assetID, "unit_id": unitID})
			}
		}(asset.ID)
	}

	wg.Wait()

	now := time.Now()
	unit.DownloadStatus = models.DownloadStatusCompleted
	unit.DownloadedAt = &now
	return r.cacheService.UpdateUnit(ctx, unit, cache.UpdateUnitOptions{
		Columns: []string{"download_status", "downloaded_at"},
	})
}

// verifyMediaType sniffs the downloaded bytes and warns when they don't look
// like the declared media type. Warn-only: a mislabeled file still plays or
// renders in most cases, and the server is the source of truth for the type.
func (r *Resolver) verifyMediaType(asset *models.Asset, path string) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return
	}

	var want string
	switch asset.MediaType {
	case models.MediaTypeAudio:
		want = "audio/"
	case models.MediaTypeImage:
		want = "image/"
	default:
		return
	}

	if !strings.HasPrefix(mtype.String(), want) {
		r.log.Warn("mime type is not expected for media type", logger.Data{
			"asset_id":   asset.ID,
			"media_type": asset.MediaType,
			"mimetype":   mtype.String(),
		})
	}
}
