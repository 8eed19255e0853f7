package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/models"
)

// DeliverFunc performs one delivery attempt for a record. It must forward the
// record's idempotency key so the remote can deduplicate repeated attempts,
// and return an error on any non-success outcome.
type DeliverFunc func(ctx context.Context, rec *models.OutboxRecord) error

// Request is a pending remote mutation to enqueue.
type Request struct {
	ID             string
	Endpoint       string
	Method         string
	Payload        string
	Headers        map[string]string
	IdempotencyKey string
}

// Processor drives the durable outbox: one ready record per call, with
// exponential-backoff retry and per-record attempt accounting.
type Processor struct {
	cfg          *config.Config
	log          logger.Logger
	cacheService *cache.Service
}

func NewProcessor(cfg *config.Config, cacheService *cache.Service) *Processor {
	return &Processor{
		cfg:          cfg,
		log:          logger.New(),
		cacheService: cacheService,
	}
}

// Enqueue persists a record with zero attempts, eligible immediately. An ID
// is assigned if the caller didn't supply one.
func (p *Processor) Enqueue(ctx context.Context, req Request) (*models.OutboxRecord, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	rec := &models.OutboxRecord{
		ID:             id,
		Endpoint:       req.Endpoint,
		Method:         req.Method,
		Payload:        req.Payload,
		HeadersParsed:  req.Headers,
		IdempotencyKey: req.IdempotencyKey,
		Attempts:       0,
		NextAttemptAt:  time.Now(),
	}

	err := p.cacheService.EnqueueOutbox(ctx, rec)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ProcessOne selects the single oldest record whose next attempt is due and
// delivers it. Returns the number of records attempted (0 or 1). A delivery
// failure is recorded on the row and rescheduled, not returned as an error;
// only storage failures propagate.
func (p *Processor) ProcessOne(ctx context.Context, deliver DeliverFunc) (int, error) {
	now := time.Now()
	recs, err := p.cacheService.ListOutbox(ctx, cache.ListOutboxOptions{
		ReadyBefore: &now,
		Limit:       pointerutil.Int(1),
	})
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	rec := recs[0]

	err = deliver(ctx, rec)
	if err != nil {
		attempts := rec.Attempts + 1
		nextAttemptAt := now.Add(p.backoffDelay(attempts))

		p.log.Err(err).Warn("outbox delivery failed", logger.Data{
			"record_id": rec.ID,
			"endpoint":  rec.Endpoint,
			"attempts":  attempts,
		})
		if attempts >= p.cfg.OutboxMaxAttempts {
			// The record stays visible for inspection; it is user data and
			// must never be silently dropped.
			p.log.Warn("outbox record exceeded max attempts", logger.Data{"record_id": rec.ID})
		}

		updateErr := p.cacheService.UpdateOutboxFailure(ctx, rec.ID, attempts, err.Error(), nextAttemptAt)
		if updateErr != nil {
			return 0, updateErr
		}
		return 1, nil
	}

	err = p.cacheService.DeleteOutboxRecord(ctx, rec.ID)
	if err != nil {
		return 0, err
	}

	return 1, nil
}

// backoffDelay computes min(maxBackoff, baseBackoff * 2^(attempts-1)).
func (p *Processor) backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := p.cfg.OutboxBaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.cfg.OutboxMaxBackoff {
			return p.cfg.OutboxMaxBackoff
		}
	}
	if delay > p.cfg.OutboxMaxBackoff {
		delay = p.cfg.OutboxMaxBackoff
	}
	return delay
}
