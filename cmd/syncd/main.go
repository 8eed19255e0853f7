package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/tangolearn/tango/pkg/assets"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/database"
	"github.com/tangolearn/tango/pkg/filestore"
	"github.com/tangolearn/tango/pkg/migrations"
	"github.com/tangolearn/tango/pkg/outbox"
	"github.com/tangolearn/tango/pkg/server"
	"github.com/tangolearn/tango/pkg/sync"
	"github.com/tangolearn/tango/pkg/units"
	"github.com/tangolearn/tango/pkg/version"
	"github.com/tangolearn/tango/pkg/worker"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting tango", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initAssetDir(cfg.AssetDir); err != nil {
		log.Err(err).Fatal("asset directory error")
	}
	log.Info("asset directory initialized", logger.Data{"path": cfg.AssetDir})

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	// Content cached by an older app version at a schema the client can no
	// longer interpret is dropped up front; it comes back at the current
	// schema on the next sync.
	purged, err := migrations.PurgeUnsupportedUnits(ctx, db, cfg.MinSupportedSchemaVersion)
	if err != nil {
		log.Err(err).Fatal("schema purge error")
	}
	if purged > 0 {
		log.Info("purged units below supported schema version", logger.Data{"count": purged, "min_schema_version": cfg.MinSupportedSchemaVersion})
	}

	cacheService := cache.NewService(db)
	files := filestore.New(cfg.DownloadTimeout)
	resolver := assets.NewResolver(cfg, cacheService, files)
	unitService := units.NewService(cfg, cacheService, resolver, files)
	processor := outbox.NewProcessor(cfg, cacheService)
	deliverer := outbox.NewDeliverer(cfg.RemoteBaseURL, cfg.DownloadTimeout)
	puller := sync.NewClient(cfg.RemoteBaseURL, cfg.DownloadTimeout)
	orchestrator := sync.NewOrchestrator(cfg, cacheService, processor, deliverer.Deliver, puller)

	srv, err := server.New(cfg, &server.Services{
		CacheService: cacheService,
		Resolver:     resolver,
		UnitService:  unitService,
		Processor:    processor,
		Orchestrator: orchestrator,
	})
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	wrkr := worker.New(cfg, orchestrator)

	graceful := signals.Setup()

	go func() {
		log.Info("server started", logger.Data{"addr": srv.Addr})
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initAssetDir creates the asset directory and verifies write permissions.
func initAssetDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create asset directory: %s", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return errors.Wrapf(err, "asset directory is not writable: %s", dir)
	}
	f.Close()

	if err := os.Remove(testFile); err != nil {
		return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
	}

	return nil
}
