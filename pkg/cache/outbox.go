package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tangolearn/tango/pkg/errcodes"
	"github.com/tangolearn/tango/pkg/models"
)

type ListOutboxOptions struct {
	// ReadyBefore restricts to records whose next attempt is due at or before
	// the given time.
	ReadyBefore *time.Time
	// MinAttempts restricts to records with at least this many failed
	// attempts (e.g. to list stalled records for inspection).
	MinAttempts *int
	Limit       *int
}

func (svc *Service) EnqueueOutbox(ctx context.Context, rec *models.OutboxRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.NextAttemptAt.IsZero() {
		rec.NextAttemptAt = now
	}

	if rec.Headers == "" && rec.HeadersParsed != nil {
		err := rec.MarshalHeaders()
		if err != nil {
			return err
		}
	}

	_, err := svc.db.
		NewInsert().
		Model(rec).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ListOutbox returns records ordered by creation time ascending, so older
// mutations get delivery attempts first.
func (svc *Service) ListOutbox(ctx context.Context, opts ListOutboxOptions) ([]*models.OutboxRecord, error) {
	recs := []*models.OutboxRecord{}

	q := svc.db.
		NewSelect().
		Model(&recs).
		Order("o.created_at ASC")

	if opts.ReadyBefore != nil {
		q = q.Where("o.next_attempt_at <= ?", *opts.ReadyBefore)
	}
	if opts.MinAttempts != nil {
		q = q.Where("o.attempts >= ?", *opts.MinAttempts)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, rec := range recs {
		err := rec.UnmarshalHeaders()
		if err != nil {
			return nil, err
		}
	}

	return recs, nil
}

func (svc *Service) RetrieveOutboxRecord(ctx context.Context, id string) (*models.OutboxRecord, error) {
	rec := &models.OutboxRecord{}

	err := svc.db.
		NewSelect().
		Model(rec).
		Where("o.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Outbox record")
		}
		return nil, errors.WithStack(err)
	}

	err = rec.UnmarshalHeaders()
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (svc *Service) UpdateOutboxFailure(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt time.Time) error {
	_, err := svc.db.
		NewUpdate().
		Model((*models.OutboxRecord)(nil)).
		Set("attempts = ?", attempts).
		Set("last_error = ?", lastError).
		Set("next_attempt_at = ?", nextAttemptAt).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) DeleteOutboxRecord(ctx context.Context, id string) error {
	_, err := svc.db.
		NewDelete().
		Model((*models.OutboxRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) CountOutbox(ctx context.Context) (int, error) {
	count, err := svc.db.
		NewSelect().
		Model((*models.OutboxRecord)(nil)).
		Count(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return count, nil
}
