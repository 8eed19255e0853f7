package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tangolearn/tango/pkg/errcodes"
	"github.com/tangolearn/tango/pkg/models"
)

func (svc *Service) RetrieveMetadata(ctx context.Context, key string) (string, error) {
	meta := &models.Metadata{}

	err := svc.db.
		NewSelect().
		Model(meta).
		Where("m.key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errcodes.NotFound("Metadata")
		}
		return "", errors.WithStack(err)
	}

	return meta.Value, nil
}

func (svc *Service) SetMetadata(ctx context.Context, key, value string) error {
	meta := &models.Metadata{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}

	_, err := svc.db.
		NewInsert().
		Model(meta).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return errors.WithStack(err)
}
