package sync

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers sync routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, orchestrator *Orchestrator) {
	h := &handler{
		orchestrator: orchestrator,
	}

	g.POST("", h.trigger)
	g.GET("/status", h.status)
}
