package units

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/models"
)

type handler struct {
	unitService *Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListUnitsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	units, err := h.unitService.ListUnits(ctx, cache.ListUnitsOptions{
		Fidelity:        params.Fidelity,
		IncludeOrphaned: params.IncludeOrphaned,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Units []*models.Unit `json:"units"`
		Total int            `json:"total"`
	}{units, len(units)}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()

	unit, err := h.unitService.GetUnitDetail(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, unit))
}

func (h *handler) cacheMinimal(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CacheMinimalUnitsPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	inputs := make([]UnitInput, 0, len(params.Units))
	for _, u := range params.Units {
		inputs = append(inputs, unitInputFromPayload(u))
	}

	err := h.unitService.CacheMinimalUnits(ctx, inputs)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Cached int `json:"cached"`
	}{len(inputs)}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) cacheFull(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CacheFullUnitPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	lessons := make([]LessonInput, 0, len(params.Lessons))
	for _, l := range params.Lessons {
		lessons = append(lessons, LessonInput{
			ID:            l.ID,
			Title:         l.Title,
			Position:      l.Position,
			UpdatedAt:     l.UpdatedAt,
			SchemaVersion: l.SchemaVersion,
			Payload:       l.Payload,
		})
	}

	unitAssets := make([]AssetInput, 0, len(params.Assets))
	for _, a := range params.Assets {
		unitAssets = append(unitAssets, AssetInput{
			ID:        a.ID,
			MediaType: a.MediaType,
			RemoteURI: a.RemoteURI,
			Checksum:  a.Checksum,
			UpdatedAt: a.UpdatedAt,
		})
	}

	err := h.unitService.CacheFullUnit(ctx, unitInputFromPayload(params.Unit), lessons, unitAssets)
	if err != nil {
		return errors.WithStack(err)
	}

	unit, err := h.unitService.GetUnitDetail(ctx, params.Unit.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, unit))
}

func (h *handler) setMode(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := SetCacheModePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	unit, err := h.unitService.SetUnitCacheMode(ctx, c.Param("id"), params.Fidelity)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, unit))
}

func (h *handler) delete(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.unitService.DeleteUnit(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func (h *handler) overview(c echo.Context) error {
	ctx := c.Request().Context()

	overview, err := h.unitService.GetCacheOverview(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, overview))
}

func (h *handler) clear(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.unitService.ClearAll(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func unitInputFromPayload(u UnitPayload) UnitInput {
	return UnitInput{
		ID:            u.ID,
		Title:         u.Title,
		Description:   u.Description,
		LearnerLevel:  u.LearnerLevel,
		IsGlobal:      u.IsGlobal,
		UpdatedAt:     u.UpdatedAt,
		SchemaVersion: u.SchemaVersion,
		Payload:       u.Payload,
	}
}
