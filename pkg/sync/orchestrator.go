package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/errcodes"
	"github.com/tangolearn/tango/pkg/models"
	"github.com/tangolearn/tango/pkg/outbox"
)

const (
	PayloadMinimal = "minimal"
	PayloadFull    = "full"
)

// RunOptions controls a single sync cycle. Force discards the saved cursor
// and requests a complete snapshot; Payload overrides the fidelity hint sent
// to the remote.
type RunOptions struct {
	Force   bool
	Payload *string
}

// Result summarizes what a cycle did. A failed cycle is a value with the
// error status, not a Go error; the cache stays serving its last good state
// either way.
type Result struct {
	Status        string  `json:"status"`
	Error         *string `json:"error"`
	OutboxDrained int     `json:"outbox_drained"`
	UnitsMerged   int     `json:"units_merged"`
	LessonsMerged int     `json:"lessons_merged"`
	AssetsMerged  int     `json:"assets_merged"`
	Cursor        *string `json:"cursor"`
}

// Status is the externally visible sync state.
type Status struct {
	LastSyncedAt  *string `json:"last_synced_at"`
	LastResult    *string `json:"last_result"`
	LastError     *string `json:"last_error"`
	Cursor        *string `json:"cursor"`
	PendingOutbox int     `json:"pending_outbox"`
}

// Orchestrator runs the push-then-pull sync cycle: drain the outbox first so
// local mutations reach the remote before its answer is merged back, then
// pull from the saved cursor and fold the changes into the cache in one
// transaction. Cycles are serialized; a trigger while one is running waits.
type Orchestrator struct {
	mu           stdsync.Mutex
	cfg          *config.Config
	log          logger.Logger
	cacheService *cache.Service
	processor    *outbox.Processor
	deliver      outbox.DeliverFunc
	puller       Puller
}

func NewOrchestrator(cfg *config.Config, cacheService *cache.Service, processor *outbox.Processor, deliver outbox.DeliverFunc, puller Puller) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		log:          logger.New(),
		cacheService: cacheService,
		processor:    processor,
		deliver:      deliver,
		puller:       puller,
	}
}

func (o *Orchestrator) RunSyncCycle(ctx context.Context, opts RunOptions) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := &Result{Status: models.SyncResultSuccess}

	drained, err := o.drainOutbox(ctx)
	result.OutboxDrained = drained
	if err != nil {
		return o.recordFailure(ctx, result, err)
	}

	cursor, err := o.loadCursor(ctx, opts.Force)
	if err != nil {
		return o.recordFailure(ctx, result, err)
	}

	payload, err := o.payloadHint(ctx, opts.Payload)
	if err != nil {
		return o.recordFailure(ctx, result, err)
	}

	resp, err := o.puller.Pull(ctx, PullRequest{Cursor: cursor, Payload: payload})
	if err != nil {
		return o.recordFailure(ctx, result, err)
	}

	if opts.Force {
		err = o.cacheService.DeleteUnitsByFidelity(ctx, models.CacheFidelityMinimal)
		if err != nil {
			return o.recordFailure(ctx, result, err)
		}
	}

	err = o.merge(ctx, resp, opts.Force, result)
	if err != nil {
		return o.recordFailure(ctx, result, err)
	}

	if resp.Cursor != nil {
		err = o.cacheService.SetMetadata(ctx, models.MetaLastCursor, *resp.Cursor)
		if err != nil {
			return o.recordFailure(ctx, result, err)
		}
		result.Cursor = resp.Cursor
	}

	err = o.recordSuccess(ctx)
	if err != nil {
		return o.recordFailure(ctx, result, err)
	}

	o.log.Info("sync cycle completed", logger.Data{
		"outbox_drained": result.OutboxDrained,
		"units_merged":   result.UnitsMerged,
		"lessons_merged": result.LessonsMerged,
		"assets_merged":  result.AssetsMerged,
		"forced":         opts.Force,
	})

	return result, nil
}

func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	status := &Status{}

	for key, dst := range map[string]**string{
		models.MetaLastSyncedAt:   &status.LastSyncedAt,
		models.MetaLastSyncResult: &status.LastResult,
		models.MetaLastSyncError:  &status.LastError,
		models.MetaLastCursor:     &status.Cursor,
	} {
		value, err := o.cacheService.RetrieveMetadata(ctx, key)
		if err != nil {
			if errors.Is(err, errcodes.NotFound("Metadata")) {
				continue
			}
			return nil, err
		}
		v := value
		*dst = &v
	}

	count, err := o.cacheService.CountOutbox(ctx)
	if err != nil {
		return nil, err
	}
	status.PendingOutbox = count

	return status, nil
}

// drainOutbox attempts deliveries until the queue yields nothing ready or the
// per-cycle limit is hit. Failed deliveries are rescheduled by the processor
// and don't stop the drain; only storage errors do.
func (o *Orchestrator) drainOutbox(ctx context.Context) (int, error) {
	drained := 0
	for i := 0; i < o.cfg.SyncOutboxDrainLimit; i++ {
		n, err := o.processor.ProcessOne(ctx, o.deliver)
		if err != nil {
			return drained, err
		}
		if n == 0 {
			break
		}
		drained += n
	}
	return drained, nil
}

func (o *Orchestrator) loadCursor(ctx context.Context, force bool) (*string, error) {
	if force {
		return nil, nil
	}

	value, err := o.cacheService.RetrieveMetadata(ctx, models.MetaLastCursor)
	if err != nil {
		if errors.Is(err, errcodes.NotFound("Metadata")) {
			return nil, nil
		}
		return nil, err
	}

	return &value, nil
}

// payloadHint picks the fidelity to request: full when any unit is cached at
// full fidelity, so its payloads stay current, minimal otherwise.
func (o *Orchestrator) payloadHint(ctx context.Context, override *string) (string, error) {
	if override != nil {
		return *override, nil
	}

	fidelity := models.CacheFidelityFull
	count, err := o.cacheService.CountUnits(ctx, cache.CountUnitsOptions{Fidelity: &fidelity})
	if err != nil {
		return "", err
	}
	if count > 0 {
		return PayloadFull, nil
	}
	return PayloadMinimal, nil
}

// merge folds a pull response into the cache in a single transaction, so a
// crash mid-merge leaves the previous consistent state intact.
func (o *Orchestrator) merge(ctx context.Context, resp *PullResponse, force bool, result *Result) error {
	now := time.Now()

	return o.cacheService.RunInTx(ctx, func(ctx context.Context, txSvc *cache.Service) error {
		units := make([]*models.Unit, 0, len(resp.Units))
		for _, incoming := range resp.Units {
			existing, err := txSvc.RetrieveUnit(ctx, incoming.ID)
			if err != nil && !errors.Is(err, errcodes.NotFound("Unit")) {
				return err
			}
			units = append(units, mergeUnit(existing, incoming, now))
		}
		if err := txSvc.UpsertUnits(ctx, units); err != nil {
			return err
		}
		result.UnitsMerged = len(units)

		lessons := make([]*models.Lesson, 0, len(resp.Lessons))
		for _, incoming := range resp.Lessons {
			existing, err := txSvc.RetrieveLesson(ctx, incoming.ID)
			if err != nil && !errors.Is(err, errcodes.NotFound("Lesson")) {
				return err
			}
			lessons = append(lessons, mergeLesson(existing, incoming))
		}
		if err := txSvc.UpsertLessons(ctx, lessons); err != nil {
			return err
		}
		result.LessonsMerged = len(lessons)

		assets := make([]*models.Asset, 0, len(resp.Assets))
		for _, incoming := range resp.Assets {
			existing, err := txSvc.RetrieveAsset(ctx, incoming.ID)
			if err != nil && !errors.Is(err, errcodes.NotFound("Asset")) {
				return err
			}
			assets = append(assets, mergeAsset(existing, incoming))
		}
		if err := txSvc.UpsertAssets(ctx, assets); err != nil {
			return err
		}
		result.AssetsMerged = len(assets)

		// A forced pull that came back without a cursor is the complete
		// catalog, so anything it didn't mention no longer exists remotely.
		if force && resp.Cursor == nil {
			keepIDs := make([]string, 0, len(resp.Units))
			for _, incoming := range resp.Units {
				keepIDs = append(keepIDs, incoming.ID)
			}
			return txSvc.MarkUnitsOrphaned(ctx, keepIDs)
		}

		return nil
	})
}

func (o *Orchestrator) recordSuccess(ctx context.Context) error {
	err := o.cacheService.SetMetadata(ctx, models.MetaLastSyncedAt, time.Now().Format(time.RFC3339))
	if err != nil {
		return err
	}
	err = o.cacheService.SetMetadata(ctx, models.MetaLastSyncResult, models.SyncResultSuccess)
	if err != nil {
		return err
	}
	return o.cacheService.SetMetadata(ctx, models.MetaLastSyncError, "")
}

// recordFailure marks the cycle failed in metadata and returns the result
// with the error status. The error itself is not propagated; a failed cycle
// leaves the cache serving its previous state and the next cycle retries.
func (o *Orchestrator) recordFailure(ctx context.Context, result *Result, cause error) (*Result, error) {
	o.log.Err(cause).Error("sync cycle failed")

	result.Status = models.SyncResultError
	msg := cause.Error()
	result.Error = &msg

	if err := o.cacheService.SetMetadata(ctx, models.MetaLastSyncedAt, time.Now().Format(time.RFC3339)); err != nil {
		o.log.Err(err).Error("record sync failure")
	}
	if err := o.cacheService.SetMetadata(ctx, models.MetaLastSyncResult, models.SyncResultError); err != nil {
		o.log.Err(err).Error("record sync failure")
	}
	if err := o.cacheService.SetMetadata(ctx, models.MetaLastSyncError, msg); err != nil {
		o.log.Err(err).Error("record sync failure")
	}

	return result, nil
}
