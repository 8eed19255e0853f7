package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`ALTER TABLE units ADD COLUMN orphaned BOOLEAN NOT NULL DEFAULT FALSE`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`ALTER TABLE units DROP COLUMN orphaned`)
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
