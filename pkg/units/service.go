package units

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tangolearn/tango/pkg/assets"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/database"
	"github.com/tangolearn/tango/pkg/errcodes"
	"github.com/tangolearn/tango/pkg/filestore"
	"github.com/tangolearn/tango/pkg/models"
)

// UnitInput is a unit as supplied by the embedding application, typically
// relayed from the remote API's catalog responses.
type UnitInput struct {
	ID            string
	Title         string
	Description   *string
	LearnerLevel  *string
	IsGlobal      bool
	UpdatedAt     int64
	SchemaVersion int
	Payload       string
}

type LessonInput struct {
	ID            string
	Title         string
	Position      int
	UpdatedAt     int64
	SchemaVersion int
	Payload       string
}

type AssetInput struct {
	ID        string
	MediaType string
	RemoteURI string
	Checksum  *string
	UpdatedAt int64
}

// CacheOverview reports what the cache holds and roughly how much space each
// unit accounts for. Database bytes are attributed per unit proportionally to
// its row counts; the figure is an estimate, not an exact accounting.
type CacheOverview struct {
	TotalBytes    int64           `json:"total_bytes"`
	DatabaseBytes int64           `json:"database_bytes"`
	AssetBytes    int64           `json:"asset_bytes"`
	Units         []*UnitOverview `json:"units"`
}

type UnitOverview struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Fidelity      string `json:"fidelity"`
	LessonCount   int    `json:"lesson_count"`
	AssetCount    int    `json:"asset_count"`
	AssetBytes    int64  `json:"asset_bytes"`
	DatabaseBytes int64  `json:"database_bytes"`
	TotalBytes    int64  `json:"total_bytes"`
}

// Service is the high-level cache façade the embedding application calls:
// store units at either fidelity, flip fidelity, read details, and reclaim
// space. It composes the repository, the asset resolver, and the file store.
type Service struct {
	cfg          *config.Config
	log          logger.Logger
	cacheService *cache.Service
	resolver     *assets.Resolver
	files        *filestore.Store
}

func NewService(cfg *config.Config, cacheService *cache.Service, resolver *assets.Resolver, files *filestore.Store) *Service {
	return &Service{
		cfg:          cfg,
		log:          logger.New(),
		cacheService: cacheService,
		resolver:     resolver,
		files:        files,
	}
}

// CacheMinimalUnits stores catalog metadata for browsing. Units already
// cached keep their fidelity and download state; only the remote-owned fields
// are refreshed.
func (svc *Service) CacheMinimalUnits(ctx context.Context, inputs []UnitInput) error {
	now := time.Now()

	return svc.cacheService.RunInTx(ctx, func(ctx context.Context, txSvc *cache.Service) error {
		units := make([]*models.Unit, 0, len(inputs))
		for i := range inputs {
			in := inputs[i]

			unit := &models.Unit{
				ID:              in.ID,
				Title:           in.Title,
				Description:     in.Description,
				LearnerLevel:    in.LearnerLevel,
				IsGlobal:        in.IsGlobal,
				RemoteUpdatedAt: in.UpdatedAt,
				SchemaVersion:   in.SchemaVersion,
				Fidelity:        models.CacheFidelityMinimal,
				DownloadStatus:  models.DownloadStatusIdle,
				SyncedAt:        &now,
				Payload:         in.Payload,
			}

			existing, err := txSvc.RetrieveUnit(ctx, in.ID)
			if err != nil && !errors.Is(err, errcodes.NotFound("Unit")) {
				return err
			}
			if existing != nil {
				unit.CreatedAt = existing.CreatedAt
				unit.Fidelity = existing.Fidelity
				unit.DownloadStatus = existing.DownloadStatus
				unit.DownloadedAt = existing.DownloadedAt
				if in.Payload == "" {
					unit.Payload = existing.Payload
				}
			}

			units = append(units, unit)
		}

		return txSvc.UpsertUnits(ctx, units)
	})
}

// CacheFullUnit stores a unit with its complete lesson and asset sets in one
// transaction, then materializes the asset files. The row flips to full
// fidelity before the downloads start, so a crash mid-download leaves a full
// unit whose assets self-heal on next resolve.
func (svc *Service) CacheFullUnit(ctx context.Context, input UnitInput, lessonInputs []LessonInput, assetInputs []AssetInput) error {
	now := time.Now()

	err := svc.cacheService.RunInTx(ctx, func(ctx context.Context, txSvc *cache.Service) error {
		unit := &models.Unit{
			ID:              input.ID,
			Title:           input.Title,
			Description:     input.Description,
			LearnerLevel:    input.LearnerLevel,
			IsGlobal:        input.IsGlobal,
			RemoteUpdatedAt: input.UpdatedAt,
			SchemaVersion:   input.SchemaVersion,
			Fidelity:        models.CacheFidelityFull,
			DownloadStatus:  models.DownloadStatusPending,
			SyncedAt:        &now,
			Payload:         input.Payload,
		}

		existing, err := txSvc.RetrieveUnit(ctx, input.ID)
		if err != nil && !errors.Is(err, errcodes.NotFound("Unit")) {
			return err
		}
		if existing != nil {
			unit.CreatedAt = existing.CreatedAt
		}

		err = txSvc.UpsertUnits(ctx, []*models.Unit{unit})
		if err != nil {
			return err
		}

		lessons := make([]*models.Lesson, 0, len(lessonInputs))
		for _, in := range lessonInputs {
			lessons = append(lessons, &models.Lesson{
				ID:              in.ID,
				UnitID:          input.ID,
				Title:           in.Title,
				Position:        in.Position,
				RemoteUpdatedAt: in.UpdatedAt,
				SchemaVersion:   in.SchemaVersion,
				Payload:         in.Payload,
			})
		}
		err = txSvc.ReplaceLessons(ctx, input.ID, lessons)
		if err != nil {
			return err
		}

		unitAssets := make([]*models.Asset, 0, len(assetInputs))
		for _, in := range assetInputs {
			unitAssets = append(unitAssets, &models.Asset{
				ID:              in.ID,
				UnitID:          input.ID,
				MediaType:       in.MediaType,
				RemoteURI:       in.RemoteURI,
				Checksum:        in.Checksum,
				RemoteUpdatedAt: in.UpdatedAt,
				DownloadStatus:  models.DownloadStatusPending,
			})
		}
		return txSvc.ReplaceAssets(ctx, input.ID, unitAssets)
	})
	if err != nil {
		return err
	}

	return svc.resolver.DownloadUnitAssets(ctx, input.ID)
}

// SetUnitCacheMode flips a unit between fidelities. Raising to full triggers
// asset downloads; lowering to minimal removes the unit's files, lessons, and
// asset rows while keeping the metadata row.
func (svc *Service) SetUnitCacheMode(ctx context.Context, unitID, fidelity string) (*models.Unit, error) {
	unit, err := svc.cacheService.RetrieveUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	switch fidelity {
	case models.CacheFidelityFull:
		unit.Fidelity = models.CacheFidelityFull
		unit.DownloadStatus = models.DownloadStatusPending
		err = svc.cacheService.UpdateUnit(ctx, unit, cache.UpdateUnitOptions{
			Columns: []string{"fidelity", "download_status"},
		})
		if err != nil {
			return nil, err
		}

		err = svc.resolver.DownloadUnitAssets(ctx, unitID)
		if err != nil {
			return nil, err
		}

	case models.CacheFidelityMinimal:
		err = svc.deleteUnitFiles(ctx, unitID)
		if err != nil {
			return nil, err
		}

		err = svc.cacheService.RunInTx(ctx, func(ctx context.Context, txSvc *cache.Service) error {
			err := txSvc.RemoveAssets(ctx, unitID)
			if err != nil {
				return err
			}
			err = txSvc.ReplaceLessons(ctx, unitID, nil)
			if err != nil {
				return err
			}

			unit.Fidelity = models.CacheFidelityMinimal
			unit.DownloadStatus = models.DownloadStatusIdle
			unit.DownloadedAt = nil
			return txSvc.UpdateUnit(ctx, unit, cache.UpdateUnitOptions{
				Columns: []string{"fidelity", "download_status", "downloaded_at"},
			})
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, errcodes.ValidationError("Fidelity must be either minimal or full.")
	}

	return svc.cacheService.RetrieveUnit(ctx, unitID)
}

// DeleteUnit removes a unit's files and all of its rows.
func (svc *Service) DeleteUnit(ctx context.Context, unitID string) error {
	_, err := svc.cacheService.RetrieveUnit(ctx, unitID)
	if err != nil {
		return err
	}

	err = svc.deleteUnitFiles(ctx, unitID)
	if err != nil {
		return err
	}

	return svc.cacheService.DeleteUnit(ctx, unitID)
}

// ClearAll wipes the whole cache: every asset file, then every row.
func (svc *Service) ClearAll(ctx context.Context) error {
	allAssets, err := svc.cacheService.ListAllAssets(ctx)
	if err != nil {
		return err
	}

	for _, asset := range allAssets {
		if asset.LocalPath == nil {
			continue
		}
		if err := svc.files.Delete(*asset.LocalPath); err != nil {
			svc.log.Err(err).Warn("delete asset file", logger.Data{"asset_id": asset.ID})
		}
	}

	return svc.cacheService.ClearAll(ctx)
}

func (svc *Service) GetUnitDetail(ctx context.Context, unitID string) (*models.Unit, error) {
	return svc.cacheService.BuildUnitDetail(ctx, unitID)
}

func (svc *Service) ListUnits(ctx context.Context, opts cache.ListUnitsOptions) ([]*models.Unit, error) {
	return svc.cacheService.ListUnits(ctx, opts)
}

// GetCacheOverview sizes the cache. Asset bytes are measured from disk;
// database bytes come from the store file and are split across units by row
// count since per-row accounting isn't available.
func (svc *Service) GetCacheOverview(ctx context.Context) (*CacheOverview, error) {
	dbBytes, err := database.FileSize(svc.cfg)
	if err != nil {
		return nil, err
	}

	units, err := svc.cacheService.ListUnits(ctx, cache.ListUnitsOptions{IncludeOrphaned: true})
	if err != nil {
		return nil, err
	}

	overview := &CacheOverview{
		DatabaseBytes: dbBytes,
		Units:         make([]*UnitOverview, 0, len(units)),
	}

	totalWeight := int64(0)
	weights := make([]int64, len(units))

	for i, unit := range units {
		lessons, err := svc.cacheService.ListLessons(ctx, unit.ID)
		if err != nil {
			return nil, err
		}
		unitAssets, err := svc.cacheService.ListAssets(ctx, unit.ID)
		if err != nil {
			return nil, err
		}

		assetBytes := int64(0)
		for _, asset := range unitAssets {
			if asset.LocalPath == nil {
				continue
			}
			info, err := svc.files.Info(*asset.LocalPath)
			if err != nil {
				return nil, err
			}
			assetBytes += info.Size
		}

		overview.Units = append(overview.Units, &UnitOverview{
			ID:          unit.ID,
			Title:       unit.Title,
			Fidelity:    unit.Fidelity,
			LessonCount: len(lessons),
			AssetCount:  len(unitAssets),
			AssetBytes:  assetBytes,
		})
		overview.AssetBytes += assetBytes

		weights[i] = int64(1 + len(lessons) + len(unitAssets))
		totalWeight += weights[i]
	}

	for i, uo := range overview.Units {
		if totalWeight > 0 {
			uo.DatabaseBytes = dbBytes * weights[i] / totalWeight
		}
		uo.TotalBytes = uo.AssetBytes + uo.DatabaseBytes
	}

	overview.TotalBytes = overview.DatabaseBytes + overview.AssetBytes

	return overview, nil
}

// deleteUnitFiles removes the on-disk files for a unit's assets. Missing
// files are fine; other filesystem errors are logged and skipped so space
// reclamation makes as much progress as it can.
func (svc *Service) deleteUnitFiles(ctx context.Context, unitID string) error {
	unitAssets, err := svc.cacheService.ListAssets(ctx, unitID)
	if err != nil {
		return err
	}

	for _, asset := range unitAssets {
		if asset.LocalPath == nil {
			continue
		}
		if err := svc.files.Delete(*asset.LocalPath); err != nil {
			svc.log.Err(err).Warn("delete asset file", logger.Data{"asset_id": asset.ID, "unit_id": unitID})
		}
	}

	return nil
}

