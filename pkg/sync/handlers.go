package sync

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	orchestrator *Orchestrator
}

func (h *handler) trigger(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params. An empty body means a default incremental cycle.
	c.Set("disallow_empty_body", false)
	params := TriggerSyncPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	result, err := h.orchestrator.RunSyncCycle(ctx, RunOptions{
		Force:   params.Force,
		Payload: params.Payload,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}

func (h *handler) status(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := h.orchestrator.Status(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, status))
}
