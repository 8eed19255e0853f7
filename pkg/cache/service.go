package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tangolearn/tango/pkg/errcodes"
	"github.com/tangolearn/tango/pkg/models"
	"github.com/uptrace/bun"
)

// Service is the data-access surface over the embedded store. It holds no
// business rules and performs no I/O beyond the store itself; every other
// component goes through it for reads and writes.
type Service struct {
	db bun.IDB
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// RunInTx runs fn with a Service bound to a single transaction, so a logical
// operation spanning several calls commits or rolls back as one unit. Nested
// calls reuse the already-open transaction.
func (svc *Service) RunInTx(ctx context.Context, fn func(ctx context.Context, txSvc *Service) error) error {
	db, ok := svc.db.(*bun.DB)
	if !ok {
		return fn(ctx, svc)
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Service{db: tx})
	})
}

type ListUnitsOptions struct {
	Fidelity        *string
	IncludeOrphaned bool
}

type CountUnitsOptions struct {
	Fidelity *string
}

type UpdateUnitOptions struct {
	Columns []string
}

func (svc *Service) UpsertUnits(ctx context.Context, units []*models.Unit) error {
	if len(units) == 0 {
		return nil
	}

	now := time.Now()
	for _, unit := range units {
		if unit.CreatedAt.IsZero() {
			unit.CreatedAt = now
		}
		unit.UpdatedAt = now
	}

	_, err := svc.db.
		NewInsert().
		Model(&units).
		On("CONFLICT (id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("learner_level = EXCLUDED.learner_level").
		Set("is_global = EXCLUDED.is_global").
		Set("remote_updated_at = EXCLUDED.remote_updated_at").
		Set("schema_version = EXCLUDED.schema_version").
		Set("fidelity = EXCLUDED.fidelity").
		Set("download_status = EXCLUDED.download_status").
		Set("downloaded_at = EXCLUDED.downloaded_at").
		Set("synced_at = EXCLUDED.synced_at").
		Set("orphaned = EXCLUDED.orphaned").
		Set("payload = EXCLUDED.payload").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveUnit(ctx context.Context, id string) (*models.Unit, error) {
	unit := &models.Unit{}

	err := svc.db.
		NewSelect().
		Model(unit).
		Where("u.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Unit")
		}
		return nil, errors.WithStack(err)
	}

	return unit, nil
}

func (svc *Service) ListUnits(ctx context.Context, opts ListUnitsOptions) ([]*models.Unit, error) {
	units := []*models.Unit{}

	q := svc.db.
		NewSelect().
		Model(&units).
		Order("u.remote_updated_at DESC")

	if opts.Fidelity != nil {
		q = q.Where("u.fidelity = ?", *opts.Fidelity)
	}
	if !opts.IncludeOrphaned {
		q = q.Where("u.orphaned = ?", false)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return units, nil
}

func (svc *Service) CountUnits(ctx context.Context, opts CountUnitsOptions) (int, error) {
	q := svc.db.
		NewSelect().
		Model((*models.Unit)(nil))

	if opts.Fidelity != nil {
		q = q.Where("u.fidelity = ?", *opts.Fidelity)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	return count, nil
}

func (svc *Service) UpdateUnit(ctx context.Context, unit *models.Unit, opts UpdateUnitOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	unit.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(unit).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Unit")
		}
		return errors.WithStack(err)
	}

	return nil
}

// DeleteUnit removes a unit together with its lessons and assets in one
// transaction.
func (svc *Service) DeleteUnit(ctx context.Context, id string) error {
	return svc.RunInTx(ctx, func(ctx context.Context, txSvc *Service) error {
		_, err := txSvc.db.NewDelete().Model((*models.Lesson)(nil)).Where("unit_id = ?", id).Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = txSvc.db.NewDelete().Model((*models.Asset)(nil)).Where("unit_id = ?", id).Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = txSvc.db.NewDelete().Model((*models.Unit)(nil)).Where("id = ?", id).Exec(ctx)
		return errors.WithStack(err)
	})
}

// DeleteUnitsByFidelity removes every unit at the given fidelity, cascading
// lessons and assets. Used by the forced-resync purge.
func (svc *Service) DeleteUnitsByFidelity(ctx context.Context, fidelity string) error {
	return svc.RunInTx(ctx, func(ctx context.Context, txSvc *Service) error {
		_, err := txSvc.db.ExecContext(ctx, `
			DELETE FROM lessons WHERE unit_id IN (SELECT id FROM units WHERE fidelity = ?)
		`, fidelity)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = txSvc.db.ExecContext(ctx, `
			DELETE FROM assets WHERE unit_id IN (SELECT id FROM units WHERE fidelity = ?)
		`, fidelity)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = txSvc.db.NewDelete().Model((*models.Unit)(nil)).Where("fidelity = ?", fidelity).Exec(ctx)
		return errors.WithStack(err)
	})
}

// MarkUnitsOrphaned flags every unit not present in keepIDs as orphaned.
// Orphaned units are excluded from default listings but never deleted here.
func (svc *Service) MarkUnitsOrphaned(ctx context.Context, keepIDs []string) error {
	q := svc.db.
		NewUpdate().
		Model((*models.Unit)(nil)).
		Set("orphaned = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("orphaned = ?", false)

	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(keepIDs))
	}

	_, err := q.Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) UpsertLessons(ctx context.Context, lessons []*models.Lesson) error {
	if len(lessons) == 0 {
		return nil
	}

	now := time.Now()
	for _, lesson := range lessons {
		if lesson.CreatedAt.IsZero() {
			lesson.CreatedAt = now
		}
		lesson.UpdatedAt = now
	}

	_, err := svc.db.
		NewInsert().
		Model(&lessons).
		On("CONFLICT (id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("unit_id = EXCLUDED.unit_id").
		Set("title = EXCLUDED.title").
		Set("position = EXCLUDED.position").
		Set("remote_updated_at = EXCLUDED.remote_updated_at").
		Set("schema_version = EXCLUDED.schema_version").
		Set("payload = EXCLUDED.payload").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ReplaceLessons swaps out a unit's full lesson set atomically. Reserved for
// the full-unit-download path where the complete set is known; incremental
// pulls upsert instead.
func (svc *Service) ReplaceLessons(ctx context.Context, unitID string, lessons []*models.Lesson) error {
	return svc.RunInTx(ctx, func(ctx context.Context, txSvc *Service) error {
		_, err := txSvc.db.NewDelete().Model((*models.Lesson)(nil)).Where("unit_id = ?", unitID).Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		return txSvc.UpsertLessons(ctx, lessons)
	})
}

func (svc *Service) RetrieveLesson(ctx context.Context, id string) (*models.Lesson, error) {
	lesson := &models.Lesson{}

	err := svc.db.
		NewSelect().
		Model(lesson).
		Where("l.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Lesson")
		}
		return nil, errors.WithStack(err)
	}

	return lesson, nil
}

func (svc *Service) ListLessons(ctx context.Context, unitID string) ([]*models.Lesson, error) {
	lessons := []*models.Lesson{}

	err := svc.db.
		NewSelect().
		Model(&lessons).
		Where("l.unit_id = ?", unitID).
		Order("l.position ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return lessons, nil
}

func (svc *Service) UpsertAssets(ctx context.Context, assets []*models.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	now := time.Now()
	for _, asset := range assets {
		if asset.CreatedAt.IsZero() {
			asset.CreatedAt = now
		}
		asset.UpdatedAt = now
	}

	_, err := svc.db.
		NewInsert().
		Model(&assets).
		On("CONFLICT (id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("unit_id = EXCLUDED.unit_id").
		Set("media_type = EXCLUDED.media_type").
		Set("remote_uri = EXCLUDED.remote_uri").
		Set("checksum = EXCLUDED.checksum").
		Set("remote_updated_at = EXCLUDED.remote_updated_at").
		Set("local_path = EXCLUDED.local_path").
		Set("download_status = EXCLUDED.download_status").
		Set("downloaded_at = EXCLUDED.downloaded_at").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) ReplaceAssets(ctx context.Context, unitID string, assets []*models.Asset) error {
	return svc.RunInTx(ctx, func(ctx context.Context, txSvc *Service) error {
		_, err := txSvc.db.NewDelete().Model((*models.Asset)(nil)).Where("unit_id = ?", unitID).Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		return txSvc.UpsertAssets(ctx, assets)
	})
}

func (svc *Service) RetrieveAsset(ctx context.Context, id string) (*models.Asset, error) {
	asset := &models.Asset{}

	err := svc.db.
		NewSelect().
		Model(asset).
		Where("a.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Asset")
		}
		return nil, errors.WithStack(err)
	}

	return asset, nil
}

func (svc *Service) ListAssets(ctx context.Context, unitID string) ([]*models.Asset, error) {
	assets := []*models.Asset{}

	err := svc.db.
		NewSelect().
		Model(&assets).
		Where("a.unit_id = ?", unitID).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return assets, nil
}

func (svc *Service) ListAllAssets(ctx context.Context) ([]*models.Asset, error) {
	assets := []*models.Asset{}

	err := svc.db.
		NewSelect().
		Model(&assets).
		Order("a.unit_id ASC", "a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return assets, nil
}

func (svc *Service) UpdateAssetLocation(ctx context.Context, id string, localPath *string, status string, downloadedAt *time.Time) error {
	_, err := svc.db.
		NewUpdate().
		Model((*models.Asset)(nil)).
		Set("local_path = ?", localPath).
		Set("download_status = ?", status).
		Set("downloaded_at = ?", downloadedAt).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RemoveAssets(ctx context.Context, unitID string) error {
	_, err := svc.db.
		NewDelete().
		Model((*models.Asset)(nil)).
		Where("unit_id = ?", unitID).
		Exec(ctx)
	return errors.WithStack(err)
}

// BuildUnitDetail joins a unit with its lessons (ordered by position) and
// assets into one read model.
func (svc *Service) BuildUnitDetail(ctx context.Context, unitID string) (*models.Unit, error) {
	unit := &models.Unit{}

	err := svc.db.
		NewSelect().
		Model(unit).
		Relation("Lessons", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Relation("Assets", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id ASC")
		}).
		Where("u.id = ?", unitID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Unit")
		}
		return nil, errors.WithStack(err)
	}

	return unit, nil
}

// ClearAll transactionally empties every table, then compacts the store. The
// VACUUM has to run outside the transaction; SQLite rejects it inside one.
func (svc *Service) ClearAll(ctx context.Context) error {
	err := svc.RunInTx(ctx, func(ctx context.Context, txSvc *Service) error {
		for _, table := range []string{"lessons", "assets", "units", "outbox_records", "metadata"} {
			_, err := txSvc.db.ExecContext(ctx, "DELETE FROM "+table)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = svc.db.ExecContext(ctx, "VACUUM")
	return errors.WithStack(err)
}
