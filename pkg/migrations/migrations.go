package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

func BringUpToDate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	err := migrator.Init(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return group, nil
}

// PurgeUnsupportedUnits deletes any unit whose schema_version is below the
// minimum the current client code can interpret, cascading to its lessons and
// assets. Run on startup after migrations so stale payload shapes never reach
// the rest of the engine.
func PurgeUnsupportedUnits(ctx context.Context, db *bun.DB, minSchemaVersion int) (int, error) {
	var purged int

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM lessons WHERE unit_id IN (SELECT id FROM units WHERE schema_version < ?)
		`, minSchemaVersion)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM assets WHERE unit_id IN (SELECT id FROM units WHERE schema_version < ?)
		`, minSchemaVersion)
		if err != nil {
			return errors.WithStack(err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM units WHERE schema_version < ?`, minSchemaVersion)
		if err != nil {
			return errors.WithStack(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		purged = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return purged, nil
}
