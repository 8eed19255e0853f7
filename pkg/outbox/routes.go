package outbox

import (
	"github.com/labstack/echo/v4"
	"github.com/tangolearn/tango/pkg/cache"
)

// RegisterRoutesWithGroup registers outbox routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, processor *Processor, cacheService *cache.Service) {
	h := &handler{
		processor:    processor,
		cacheService: cacheService,
	}

	g.POST("", h.enqueue)
	g.GET("", h.list)
	g.GET("/count", h.count)
}
