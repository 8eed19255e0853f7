package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/migrations"
	"github.com/tangolearn/tango/pkg/models"
	"github.com/tangolearn/tango/pkg/outbox"
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

type fakePuller struct {
	resp     *PullResponse
	err      error
	requests []PullRequest
}

func (p *fakePuller) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

type testHarness struct {
	cacheService *cache.Service
	processor    *outbox.Processor
	puller       *fakePuller
	orchestrator *Orchestrator
	delivered    *[]string
}

func newTestHarness(t *testing.T, puller *fakePuller, deliverErr error) *testHarness {
	t.Helper()

	cfg := &config.Config{
		OutboxBaseBackoff:    100 * time.Millisecond,
		OutboxMaxAttempts:    3,
		OutboxMaxBackoff:     time.Second,
		SyncOutboxDrainLimit: 10,
	}

	db := newTestDB(t)
	cacheService := cache.NewService(db)
	processor := outbox.NewProcessor(cfg, cacheService)

	delivered := []string{}
	deliver := func(ctx context.Context, rec *models.OutboxRecord) error {
		if deliverErr != nil {
			return deliverErr
		}
		delivered = append(delivered, rec.Endpoint)
		return nil
	}

	return &testHarness{
		cacheService: cacheService,
		processor:    processor,
		puller:       puller,
		orchestrator: NewOrchestrator(cfg, cacheService, processor, deliver, puller),
		delivered:    &delivered,
	}
}

func TestRunSyncCyclePushThenPull(t *testing.T) {
	puller := &fakePuller{resp: &PullResponse{
		Units: []*UnitPayload{{
			ID:            "u1",
			Title:         "Greetings",
			UpdatedAt:     100,
			SchemaVersion: 1,
		}},
		Cursor: pointerutil.String("cursor-1"),
	}}
	h := newTestHarness(t, puller, nil)
	ctx := context.Background()

	_, err := h.processor.Enqueue(ctx, outbox.Request{
		Endpoint:       "/progress",
		Method:         "POST",
		Payload:        `{"lesson_id":"l1"}`,
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	result, err := h.orchestrator.RunSyncCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncResultSuccess, result.Status)
	assert.Equal(t, 1, result.OutboxDrained)
	assert.Equal(t, 1, result.UnitsMerged)

	// The mutation went out before the pull was merged.
	assert.Equal(t, []string{"/progress"}, *h.delivered)
	count, err := h.cacheService.CountOutbox(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The pulled unit is cached and the cursor persisted.
	unit, err := h.cacheService.RetrieveUnit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Greetings", unit.Title)

	cursor, err := h.cacheService.RetrieveMetadata(ctx, models.MetaLastCursor)
	require.NoError(t, err)
	assert.Equal(t, "cursor-1", cursor)

	status, err := h.orchestrator.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, models.SyncResultSuccess, *status.LastResult)
}

func TestRunSyncCycleSendsSavedCursor(t *testing.T) {
	puller := &fakePuller{resp: &PullResponse{Cursor: pointerutil.String("cursor-2")}}
	h := newTestHarness(t, puller, nil)
	ctx := context.Background()

	err := h.cacheService.SetMetadata(ctx, models.MetaLastCursor, "cursor-1")
	require.NoError(t, err)

	_, err = h.orchestrator.RunSyncCycle(ctx, RunOptions{})
	require.NoError(t, err)

	require.Len(t, puller.requests, 1)
	require.NotNil(t, puller.requests[0].Cursor)
	assert.Equal(t, "cursor-1", *puller.requests[0].Cursor)
	assert.Equal(t, PayloadMinimal, puller.requests[0].Payload)
}

func TestRunSyncCycleRequestsFullPayloadWhenFullUnitsCached(t *testing.T) {
	puller := &fakePuller{resp: &PullResponse{}}
	h := newTestHarness(t, puller, nil)
	ctx := context.Background()

	err := h.cacheService.UpsertUnits(ctx, []*models.Unit{{
		ID:             "u1",
		Title:          "Unit",
		SchemaVersion:  1,
		Fidelity:       models.CacheFidelityFull,
		DownloadStatus: models.DownloadStatusCompleted,
	}})
	require.NoError(t, err)

	_, err = h.orchestrator.RunSyncCycle(ctx, RunOptions{})
	require.NoError(t, err)

	require.Len(t, puller.requests, 1)
	assert.Equal(t, PayloadFull, puller.requests[0].Payload)
}

func TestRunSyncCycleMergePreservesLocalState(t *testing.T) {
	downloadedAt := time.Now().Add(-time.Hour)
	path := "/data/assets/a1.mp3"

	puller := &fakePuller{resp: &PullResponse{
		Units: []*UnitPayload{{
			ID:            "u1",
			Title:         "Renamed",
			UpdatedAt:     200,
			SchemaVersion: 1,
		}},
		Assets: []*AssetPayload{{
			ID:        "a1",
			UnitID:    "u1",
			MediaType: models.MediaTypeAudio,
			RemoteURI: "http://remote/a1.mp3",
			Checksum:  pointerutil.String("abc"),
			UpdatedAt: 100,
		}},
		Cursor: pointerutil.String("cursor-1"),
	}}
	h := newTestHarness(t, puller, nil)
	ctx := context.Background()

	err := h.cacheService.UpsertUnits(ctx, []*models.Unit{{
		ID:              "u1",
		Title:           "Original",
		RemoteUpdatedAt: 100,
		SchemaVersion:   1,
		Fidelity:        models.CacheFidelityFull,
		DownloadStatus:  models.DownloadStatusCompleted,
		DownloadedAt:    &downloadedAt,
		Payload:         `{"stored":true}`,
	}})
	require.NoError(t, err)

	err = h.cacheService.UpsertAssets(ctx, []*models.Asset{{
		ID:              "a1",
		UnitID:          "u1",
		MediaType:       models.MediaTypeAudio,
		RemoteURI:       "http://remote/a1.mp3",
		Checksum:        pointerutil.String("abc"),
		RemoteUpdatedAt: 100,
		LocalPath:       &path,
		DownloadStatus:  models.DownloadStatusCompleted,
		DownloadedAt:    &downloadedAt,
	}})
	require.NoError(t, err)

	_, err = h.orchestrator.RunSyncCycle(ctx, RunOptions{})
	require.NoError(t, err)

	unit, err := h.cacheService.RetrieveUnit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", unit.Title)
	assert.Equal(t, models.CacheFidelityFull, unit.Fidelity)
	assert.Equal(t, models.DownloadStatusCompleted, unit.DownloadStatus)
	assert.Equal(t, `{"stored":true}`, unit.Payload)

	// The asset is provably unchanged, so its local file stays valid.
	asset, err := h.cacheService.RetrieveAsset(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, asset.LocalPath)
	assert.Equal(t, path, *asset.LocalPath)
	assert.Equal(t, models.DownloadStatusCompleted, asset.DownloadStatus)
}

func TestRunSyncCycleForcedResync(t *testing.T) {
	puller := &fakePuller{resp: &PullResponse{
		Units: []*UnitPayload{{
			ID:            "u2",
			Title:         "Survivor",
			UpdatedAt:     300,
			SchemaVersion: 1,
		}},
		// Nil cursor on a forced pull marks this as the complete catalog.
		Cursor: nil,
	}}
	h := newTestHarness(t, puller, nil)
	ctx := context.Background()

	err := h.cacheService.UpsertUnits(ctx, []*models.Unit{
		{ID: "u1", Title: "Minimal", SchemaVersion: 1, Fidelity: models.CacheFidelityMinimal, DownloadStatus: models.DownloadStatusIdle},
		{ID: "u2", Title: "Survivor", SchemaVersion: 1, Fidelity: models.CacheFidelityFull, DownloadStatus: models.DownloadStatusCompleted},
		{ID: "u3", Title: "Gone remotely", SchemaVersion: 1, Fidelity: models.CacheFidelityFull, DownloadStatus: models.DownloadStatusCompleted},
	})
	require.NoError(t, err)

	result, err := h.orchestrator.RunSyncCycle(ctx, RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, models.SyncResultSuccess, result.Status)

	// The forced cursor is nil regardless of saved state.
	require.Len(t, puller.requests, 1)
	assert.Nil(t, puller.requests[0].Cursor)

	// Minimal units were purged and only return if the snapshot has them.
	_, err = h.cacheService.RetrieveUnit(ctx, "u1")
	assert.Error(t, err)

	// The full unit present in the snapshot keeps its local state.
	u2, err := h.cacheService.RetrieveUnit(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, models.CacheFidelityFull, u2.Fidelity)
	assert.False(t, u2.Orphaned)

	// The full unit absent from the snapshot is flagged, not deleted.
	u3, err := h.cacheService.RetrieveUnit(ctx, "u3")
	require.NoError(t, err)
	assert.True(t, u3.Orphaned)

	units, err := h.cacheService.ListUnits(ctx, cache.ListUnitsOptions{})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "u2", units[0].ID)
}

func TestRunSyncCyclePullFailureKeepsCache(t *testing.T) {
	puller := &fakePuller{err: errors.New("remote unavailable")}
	h := newTestHarness(t, puller, nil)
	ctx := context.Background()

	err := h.cacheService.UpsertUnits(ctx, []*models.Unit{{
		ID: "u1", Title: "Cached", SchemaVersion: 1, Fidelity: models.CacheFidelityMinimal, DownloadStatus: models.DownloadStatusIdle,
	}})
	require.NoError(t, err)
	err = h.cacheService.SetMetadata(ctx, models.MetaLastCursor, "cursor-1")
	require.NoError(t, err)

	result, err := h.orchestrator.RunSyncCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncResultError, result.Status)
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "remote unavailable")

	// Cache and cursor are untouched.
	_, err = h.cacheService.RetrieveUnit(ctx, "u1")
	require.NoError(t, err)
	cursor, err := h.cacheService.RetrieveMetadata(ctx, models.MetaLastCursor)
	require.NoError(t, err)
	assert.Equal(t, "cursor-1", cursor)

	status, err := h.orchestrator.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, models.SyncResultError, *status.LastResult)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "remote unavailable")
}

func TestRunSyncCycleFailedDeliveryDoesNotAbortPull(t *testing.T) {
	puller := &fakePuller{resp: &PullResponse{
		Units:  []*UnitPayload{{ID: "u1", Title: "Unit", UpdatedAt: 100, SchemaVersion: 1}},
		Cursor: pointerutil.String("cursor-1"),
	}}
	h := newTestHarness(t, puller, errors.New("remote unavailable"))
	ctx := context.Background()

	_, err := h.processor.Enqueue(ctx, outbox.Request{
		Endpoint: "/progress", Method: "POST", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	result, err := h.orchestrator.RunSyncCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncResultSuccess, result.Status)
	assert.Equal(t, 1, result.UnitsMerged)

	// The record is rescheduled, not lost.
	count, err := h.cacheService.CountOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
