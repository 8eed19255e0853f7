package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/models"
	"github.com/tangolearn/tango/pkg/sync"
)

// Worker runs the periodic background sync. Each tick triggers one cycle; the
// orchestrator serializes cycles internally, so an overlapping manual trigger
// just makes the tick wait.
type Worker struct {
	config       *config.Config
	log          logger.Logger
	orchestrator *sync.Orchestrator

	shutdown chan struct{}
	done     chan struct{}
}

func New(cfg *config.Config, orchestrator *sync.Orchestrator) *Worker {
	return &Worker{
		config:       cfg,
		log:          logger.New(),
		orchestrator: orchestrator,

		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.run()
}

func (w *Worker) run() {
	timer := time.NewTimer(w.config.SyncInterval)

	for {
		select {
		case <-w.shutdown:
			timer.Stop()
			w.done <- struct{}{}
			return
		case <-timer.C:
			w.runCycle()
			timer.Reset(w.config.SyncInterval)
		}
	}
}

func (w *Worker) runCycle() {
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"trigger": "scheduled"})
	ctx := log.WithContext(context.Background())

	result, err := w.orchestrator.RunSyncCycle(ctx, sync.RunOptions{})
	if err != nil {
		log.Err(err).Error("sync cycle error")
		return
	}
	if result.Status == models.SyncResultError {
		data := logger.Data{}
		if result.Error != nil {
			data["error"] = *result.Error
		}
		log.Warn("scheduled sync cycle failed", data)
	}
}

func (w *Worker) Shutdown() {
	close(w.shutdown)
	<-w.done
}
