package settings

import (
	"github.com/bibliograph/bibliograph/pkg/config"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the user-config settings routes.
func RegisterRoutes(e *echo.Echo, configService *config.Service) {
	h := &handler{
		configService: configService,
	}

	g := e.Group("/settings")
	g.GET("", h.retrieve)
	g.PUT("", h.update)
}
