package assets

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers asset routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, resolver *Resolver) {
	h := &handler{
		resolver: resolver,
	}

	g.POST("/:id/resolve", h.resolve)
	g.GET("/:id/file", h.file)
}
