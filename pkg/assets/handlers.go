package assets

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tangolearn/tango/pkg/errcodes"
	"github.com/tangolearn/tango/pkg/models"
)

type handler struct {
	resolver *Resolver
}

// resolve guarantees a local file when possible and returns the asset row
// either way; the download status tells the caller whether the file is there.
func (h *handler) resolve(c echo.Context) error {
	ctx := c.Request().Context()

	asset, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, asset))
}

// file streams the asset's local bytes, resolving first so a cold asset is
// downloaded on demand.
func (h *handler) file(c echo.Context) error {
	ctx := c.Request().Context()

	asset, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	if asset.LocalPath == nil || asset.DownloadStatus != models.DownloadStatusCompleted {
		return errcodes.NotFound("Asset file")
	}

	return errors.WithStack(c.File(*asset.LocalPath))
}
