package units

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangolearn/tango/pkg/assets"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/filestore"
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

type testEnv struct {
	cacheService *cache.Service
	unitService  *Service
	cfg          *config.Config
	remoteURL    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("asset bytes"))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		AssetDir:            t.TempDir(),
		DatabaseFilePath:    ":memory:",
		DownloadConcurrency: 2,
		DownloadTimeout:     5 * time.Second,
		RemoteBaseURL:       srv.URL,
	}

	db := newTestDB(t)
	cacheService := cache.NewService(db)
	files := filestore.New(cfg.DownloadTimeout)
	resolver := assets.NewResolver(cfg, cacheService, files)

	return &testEnv{
		cacheService: cacheService,
		unitService:  NewService(cfg, cacheService, resolver, files),
		cfg:          cfg,
		remoteURL:    srv.URL,
	}
}

func unitInput(id string) UnitInput {
	return UnitInput{
		ID:            id,
		Title:         "Unit " + id,
		UpdatedAt:     100,
		SchemaVersion: 1,
	}
}

func fullUnitInputs(env *testEnv, id string) (UnitInput, []LessonInput, []AssetInput) {
	lessons := []LessonInput{
		{ID: id + "-l2", Title: "Second", Position: 2, UpdatedAt: 100, SchemaVersion: 1, Payload: `{"body":"two"}`},
		{ID: id + "-l1", Title: "First", Position: 1, UpdatedAt: 100, SchemaVersion: 1, Payload: `{"body":"one"}`},
	}
	unitAssets := []AssetInput{
		{ID: id + "-a1", MediaType: models.MediaTypeAudio, RemoteURI: env.remoteURL + "/" + id + "-a1.mp3", UpdatedAt: 100},
	}
	return unitInput(id), lessons, unitAssets
}

func TestCacheMinimalUnits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.unitService.CacheMinimalUnits(ctx, []UnitInput{unitInput("u1"), unitInput("u2")})
	require.NoError(t, err)

	units, err := env.unitService.ListUnits(ctx, cache.ListUnitsOptions{})
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, unit := range units {
		assert.Equal(t, models.CacheFidelityMinimal, unit.Fidelity)
		assert.Equal(t, models.DownloadStatusIdle, unit.DownloadStatus)
		require.NotNil(t, unit.SyncedAt)
	}
}

func TestCacheMinimalUnitsDoesNotDowngradeFullUnit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit, lessons, unitAssets := fullUnitInputs(env, "u1")
	err := env.unitService.CacheFullUnit(ctx, unit, lessons, unitAssets)
	require.NoError(t, err)

	// A later catalog refresh mentioning the same unit keeps it full.
	refreshed := unitInput("u1")
	refreshed.Title = "Renamed"
	refreshed.UpdatedAt = 200
	err = env.unitService.CacheMinimalUnits(ctx, []UnitInput{refreshed})
	require.NoError(t, err)

	got, err := env.cacheService.RetrieveUnit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, models.CacheFidelityFull, got.Fidelity)
	assert.Equal(t, models.DownloadStatusCompleted, got.DownloadStatus)
}

func TestCacheFullUnitRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit, lessons, unitAssets := fullUnitInputs(env, "u1")
	err := env.unitService.CacheFullUnit(ctx, unit, lessons, unitAssets)
	require.NoError(t, err)

	detail, err := env.unitService.GetUnitDetail(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.CacheFidelityFull, detail.Fidelity)
	assert.Equal(t, models.DownloadStatusCompleted, detail.DownloadStatus)

	// Lessons come back in position order regardless of insert order.
	require.Len(t, detail.Lessons, 2)
	assert.Equal(t, "u1-l1", detail.Lessons[0].ID)
	assert.Equal(t, "u1-l2", detail.Lessons[1].ID)

	// The asset was materialized on disk.
	require.Len(t, detail.Assets, 1)
	asset := detail.Assets[0]
	assert.Equal(t, models.DownloadStatusCompleted, asset.DownloadStatus)
	require.NotNil(t, asset.LocalPath)
	_, err = os.Stat(*asset.LocalPath)
	require.NoError(t, err)
}

func TestSetUnitCacheModeToMinimalReclaimsSpace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit, lessons, unitAssets := fullUnitInputs(env, "u1")
	err := env.unitService.CacheFullUnit(ctx, unit, lessons, unitAssets)
	require.NoError(t, err)

	asset, err := env.cacheService.RetrieveAsset(ctx, "u1-a1")
	require.NoError(t, err)
	require.NotNil(t, asset.LocalPath)
	assetPath := *asset.LocalPath

	got, err := env.unitService.SetUnitCacheMode(ctx, "u1", models.CacheFidelityMinimal)
	require.NoError(t, err)
	assert.Equal(t, models.CacheFidelityMinimal, got.Fidelity)
	assert.Equal(t, models.DownloadStatusIdle, got.DownloadStatus)
	assert.Nil(t, got.DownloadedAt)

	// Files, lessons, and asset rows are gone; the metadata row remains.
	_, err = os.Stat(assetPath)
	assert.True(t, os.IsNotExist(err))

	remaining, err := env.cacheService.ListLessons(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	remainingAssets, err := env.cacheService.ListAssets(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, remainingAssets)
}

func TestSetUnitCacheModeToFullDownloadsAssets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit, lessons, unitAssets := fullUnitInputs(env, "u1")
	err := env.unitService.CacheFullUnit(ctx, unit, lessons, unitAssets)
	require.NoError(t, err)
	_, err = env.unitService.SetUnitCacheMode(ctx, "u1", models.CacheFidelityMinimal)
	require.NoError(t, err)

	// Re-seed the asset rows the way a sync pull would, then flip back up.
	err = env.cacheService.UpsertAssets(ctx, []*models.Asset{{
		ID:             "u1-a1",
		UnitID:         "u1",
		MediaType:      models.MediaTypeAudio,
		RemoteURI:      env.remoteURL + "/u1-a1.mp3",
		DownloadStatus: models.DownloadStatusPending,
	}})
	require.NoError(t, err)

	got, err := env.unitService.SetUnitCacheMode(ctx, "u1", models.CacheFidelityFull)
	require.NoError(t, err)
	assert.Equal(t, models.CacheFidelityFull, got.Fidelity)
	assert.Equal(t, models.DownloadStatusCompleted, got.DownloadStatus)

	asset, err := env.cacheService.RetrieveAsset(ctx, "u1-a1")
	require.NoError(t, err)
	require.NotNil(t, asset.LocalPath)
	_, err = os.Stat(*asset.LocalPath)
	require.NoError(t, err)
}

func TestSetUnitCacheModeRejectsUnknownFidelity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.unitService.CacheMinimalUnits(ctx, []UnitInput{unitInput("u1")})
	require.NoError(t, err)

	_, err = env.unitService.SetUnitCacheMode(ctx, "u1", "sparse")
	require.Error(t, err)
}

func TestDeleteUnitRemovesRowsAndFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit, lessons, unitAssets := fullUnitInputs(env, "u1")
	err := env.unitService.CacheFullUnit(ctx, unit, lessons, unitAssets)
	require.NoError(t, err)

	asset, err := env.cacheService.RetrieveAsset(ctx, "u1-a1")
	require.NoError(t, err)
	assetPath := *asset.LocalPath

	err = env.unitService.DeleteUnit(ctx, "u1")
	require.NoError(t, err)

	_, err = env.cacheService.RetrieveUnit(ctx, "u1")
	assert.Error(t, err)
	_, err = os.Stat(assetPath)
	assert.True(t, os.IsNotExist(err))
}

func TestClearAllEmptiesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit, lessons, unitAssets := fullUnitInputs(env, "u1")
	err := env.unitService.CacheFullUnit(ctx, unit, lessons, unitAssets)
	require.NoError(t, err)

	asset, err := env.cacheService.RetrieveAsset(ctx, "u1-a1")
	require.NoError(t, err)
	assetPath := *asset.LocalPath

	err = env.unitService.ClearAll(ctx)
	require.NoError(t, err)

	count, err := env.cacheService.CountUnits(ctx, cache.CountUnitsOptions{})
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = os.Stat(assetPath)
	assert.True(t, os.IsNotExist(err))
}

func TestGetCacheOverview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit, lessons, unitAssets := fullUnitInputs(env, "u1")
	err := env.unitService.CacheFullUnit(ctx, unit, lessons, unitAssets)
	require.NoError(t, err)
	err = env.unitService.CacheMinimalUnits(ctx, []UnitInput{unitInput("u2")})
	require.NoError(t, err)

	overview, err := env.unitService.GetCacheOverview(ctx)
	require.NoError(t, err)
	require.Len(t, overview.Units, 2)

	// The full unit accounts for its downloaded bytes.
	var full *UnitOverview
	for _, uo := range overview.Units {
		if uo.ID == "u1" {
			full = uo
		}
	}
	require.NotNil(t, full)
	assert.Equal(t, 2, full.LessonCount)
	assert.Equal(t, 1, full.AssetCount)
	assert.EqualValues(t, len("asset bytes"), full.AssetBytes)

	assert.GreaterOrEqual(t, overview.TotalBytes, overview.AssetBytes)
	assert.EqualValues(t, overview.AssetBytes, full.AssetBytes)
}
