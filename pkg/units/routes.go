package units

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers unit routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, unitService *Service) {
	h := &handler{
		unitService: unitService,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("/minimal", h.cacheMinimal)
	g.POST("/full", h.cacheFull)
	g.PUT("/:id/mode", h.setMode)
	g.DELETE("/:id", h.delete)
}

// RegisterCacheRoutesWithGroup registers whole-cache routes (overview and
// clear) on a pre-configured group.
func RegisterCacheRoutesWithGroup(g *echo.Group, unitService *Service) {
	h := &handler{
		unitService: unitService,
	}

	g.GET("/overview", h.overview)
	g.DELETE("", h.clear)
}
