package outbox

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/migrations"
	"github.com/tangolearn/tango/pkg/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	// Every pool connection to :memory: is a distinct database, so pin the
	// pool to one connection.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		OutboxBaseBackoff: 100 * time.Millisecond,
		OutboxMaxAttempts: 3,
		OutboxMaxBackoff:  time.Second,
	}
}

func TestEnqueueIsDurable(t *testing.T) {
	db := newTestDB(t)
	cacheService := cache.NewService(db)
	p := NewProcessor(newTestConfig(), cacheService)
	ctx := context.Background()

	rec, err := p.Enqueue(ctx, Request{
		Endpoint:       "/progress",
		Method:         "POST",
		Payload:        `{"lesson_id":"l1"}`,
		Headers:        map[string]string{"X-Device": "tablet"},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Zero(t, rec.Attempts)

	got, err := cacheService.RetrieveOutboxRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "/progress", got.Endpoint)
	assert.Equal(t, "key-1", got.IdempotencyKey)
	assert.Equal(t, map[string]string{"X-Device": "tablet"}, got.HeadersParsed)
}

func TestProcessOneDeletesOnSuccess(t *testing.T) {
	db := newTestDB(t)
	cacheService := cache.NewService(db)
	p := NewProcessor(newTestConfig(), cacheService)
	ctx := context.Background()

	rec, err := p.Enqueue(ctx, Request{Endpoint: "/progress", Method: "POST", IdempotencyKey: "key-1"})
	require.NoError(t, err)

	delivered := []string{}
	n, err := p.ProcessOne(ctx, func(ctx context.Context, r *models.OutboxRecord) error {
		delivered = append(delivered, r.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{rec.ID}, delivered)

	count, err := cacheService.CountOutbox(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessOneRecordsFailureAndReschedules(t *testing.T) {
	db := newTestDB(t)
	cacheService := cache.NewService(db)
	p := NewProcessor(newTestConfig(), cacheService)
	ctx := context.Background()

	rec, err := p.Enqueue(ctx, Request{Endpoint: "/progress", Method: "POST", IdempotencyKey: "key-1"})
	require.NoError(t, err)

	before := time.Now()
	n, err := p.ProcessOne(ctx, func(ctx context.Context, r *models.OutboxRecord) error {
		return errors.New("remote unavailable")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The record survives the failure with its error and schedule recorded.
	got, err := cacheService.RetrieveOutboxRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "remote unavailable")
	assert.True(t, got.NextAttemptAt.After(before))

	// Not ready yet, so nothing is picked up.
	n, err = p.ProcessOne(ctx, func(ctx context.Context, r *models.OutboxRecord) error {
		t.Fatal("should not be delivered before its scheduled attempt")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessOneFIFOOrder(t *testing.T) {
	db := newTestDB(t)
	cacheService := cache.NewService(db)
	p := NewProcessor(newTestConfig(), cacheService)
	ctx := context.Background()

	// Explicit creation times to pin the order.
	base := time.Now().Add(-time.Minute)
	for i, id := range []string{"o1", "o2", "o3"} {
		err := cacheService.EnqueueOutbox(ctx, &models.OutboxRecord{
			ID:             id,
			Endpoint:       "/progress",
			Method:         "POST",
			IdempotencyKey: "key-" + id,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			NextAttemptAt:  base,
		})
		require.NoError(t, err)
	}

	delivered := []string{}
	for {
		n, err := p.ProcessOne(ctx, func(ctx context.Context, r *models.OutboxRecord) error {
			delivered = append(delivered, r.ID)
			return nil
		})
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	assert.Equal(t, []string{"o1", "o2", "o3"}, delivered)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	p := NewProcessor(newTestConfig(), nil)

	assert.Equal(t, 100*time.Millisecond, p.backoffDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.backoffDelay(2))
	assert.Equal(t, 400*time.Millisecond, p.backoffDelay(3))
	assert.Equal(t, 800*time.Millisecond, p.backoffDelay(4))
	assert.Equal(t, time.Second, p.backoffDelay(5))
	assert.Equal(t, time.Second, p.backoffDelay(20))
}

func TestStalledRecordsStayVisible(t *testing.T) {
	db := newTestDB(t)
	cacheService := cache.NewService(db)
	cfg := newTestConfig()
	p := NewProcessor(cfg, cacheService)
	ctx := context.Background()

	rec, err := p.Enqueue(ctx, Request{Endpoint: "/progress", Method: "POST", IdempotencyKey: "key-1"})
	require.NoError(t, err)

	// Fail it past the attempt ceiling.
	for i := 0; i < cfg.OutboxMaxAttempts; i++ {
		got, err := cacheService.RetrieveOutboxRecord(ctx, rec.ID)
		require.NoError(t, err)
		err = cacheService.UpdateOutboxFailure(ctx, rec.ID, got.Attempts+1, "remote unavailable", time.Now().Add(-time.Second))
		require.NoError(t, err)
	}

	// The record is never dropped, and the stalled filter surfaces it.
	minAttempts := cfg.OutboxMaxAttempts
	recs, err := cacheService.ListOutbox(ctx, cache.ListOutboxOptions{MinAttempts: &minAttempts})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}
