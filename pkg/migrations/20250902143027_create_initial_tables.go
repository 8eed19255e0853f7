package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE units (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				title TEXT NOT NULL,
				description TEXT,
				learner_level TEXT,
				is_global BOOLEAN NOT NULL DEFAULT FALSE,
				remote_updated_at INTEGER NOT NULL DEFAULT 0,
				schema_version INTEGER NOT NULL DEFAULT 1,
				fidelity TEXT NOT NULL,
				download_status TEXT NOT NULL,
				downloaded_at TIMESTAMPTZ,
				synced_at TIMESTAMPTZ,
				payload TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_units_remote_updated_at ON units (remote_updated_at)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE lessons (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				unit_id TEXT REFERENCES units (id) ON DELETE CASCADE NOT NULL,
				title TEXT NOT NULL,
				position INTEGER NOT NULL DEFAULT 0,
				remote_updated_at INTEGER NOT NULL DEFAULT 0,
				schema_version INTEGER NOT NULL DEFAULT 1,
				payload TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_lessons_unit_id ON lessons (unit_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE assets (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				unit_id TEXT REFERENCES units (id) ON DELETE CASCADE NOT NULL,
				media_type TEXT NOT NULL,
				remote_uri TEXT NOT NULL,
				checksum TEXT,
				remote_updated_at INTEGER NOT NULL DEFAULT 0,
				local_path TEXT,
				download_status TEXT NOT NULL,
				downloaded_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_assets_unit_id ON assets (unit_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE outbox_records (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				endpoint TEXT NOT NULL,
				method TEXT NOT NULL,
				payload TEXT,
				headers TEXT,
				idempotency_key TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				next_attempt_at TIMESTAMPTZ NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_outbox_records_next_attempt_at ON outbox_records (next_attempt_at)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE metadata (
				key TEXT PRIMARY KEY,
				value TEXT,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS metadata")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS outbox_records")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS assets")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS lessons")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS units")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
