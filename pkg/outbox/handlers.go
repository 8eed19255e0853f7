package outbox

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/models"
)

type handler struct {
	processor    *Processor
	cacheService *cache.Service
}

func (h *handler) enqueue(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := EnqueuePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	key := params.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	rec, err := h.processor.Enqueue(ctx, Request{
		Endpoint:       params.Endpoint,
		Method:         params.Method,
		Payload:        params.Payload,
		Headers:        params.Headers,
		IdempotencyKey: key,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, rec))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListOutboxQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	recs, err := h.cacheService.ListOutbox(ctx, cache.ListOutboxOptions{
		MinAttempts: params.Stalled,
		Limit:       &params.Limit,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Records []*models.OutboxRecord `json:"records"`
		Total   int                    `json:"total"`
	}{recs, len(recs)}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) count(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.cacheService.CountOutbox(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Count int `json:"count"`
	}{count}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
