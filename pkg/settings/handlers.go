package settings

import (
	"net/http"

	"github.com/bibliograph/bibliograph/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	configService *config.Service
}

func (h *handler) retrieve(c echo.Context) error {
	userConfig, err := h.configService.RetrieveUserConfig()
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, userConfig))
}

func (h *handler) update(c echo.Context) error {
	params := UserConfigPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	userConfig := &config.UserConfig{
		SyncIntervalMinutes: params.SyncIntervalMinutes,
		ScanStartHour:       params.ScanStartHour,
		ScanWindowMinutes:   params.ScanWindowMinutes,
		ForceRematch:        params.ForceRematch,
	}
	err := h.configService.UpdateUserConfig(userConfig, config.UpdateUserConfigOptions{UpdateFile: true})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, userConfig))
}
