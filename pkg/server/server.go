package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/tangolearn/tango/pkg/assets"
	"github.com/tangolearn/tango/pkg/binder"
	"github.com/tangolearn/tango/pkg/cache"
	"github.com/tangolearn/tango/pkg/config"
	"github.com/tangolearn/tango/pkg/errcodes"
	"github.com/tangolearn/tango/pkg/outbox"
	"github.com/tangolearn/tango/pkg/sync"
	"github.com/tangolearn/tango/pkg/units"
)

// Services collects the constructed service graph the HTTP surface exposes.
// The caller builds it once and shares the same instances with the background
// worker.
type Services struct {
	CacheService *cache.Service
	Resolver     *assets.Resolver
	UnitService  *units.Service
	Processor    *outbox.Processor
	Orchestrator *sync.Orchestrator
}

func New(cfg *config.Config, svcs *Services) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	units.RegisterRoutesWithGroup(e.Group("/units"), svcs.UnitService)
	units.RegisterCacheRoutesWithGroup(e.Group("/cache"), svcs.UnitService)
	assets.RegisterRoutesWithGroup(e.Group("/assets"), svcs.Resolver)
	outbox.RegisterRoutesWithGroup(e.Group("/outbox"), svcs.Processor, svcs.CacheService)
	sync.RegisterRoutesWithGroup(e.Group("/sync"), svcs.Orchestrator)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
