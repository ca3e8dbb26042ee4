package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/binder"
	"github.com/bibliograph/bibliograph/pkg/config"
	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/libraries"
	"github.com/bibliograph/bibliograph/pkg/settings"
	"github.com/bibliograph/bibliograph/pkg/tasks"
	"github.com/bibliograph/bibliograph/pkg/testutils"
	"github.com/bibliograph/bibliograph/pkg/users"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
)

// New builds the management API server. The task runner is shared with the
// worker loop so created tasks are picked up immediately.
func New(cfg *config.Config, db *bun.DB, runner tasks.Runner) (*http.Server, error) {
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

	authors.RegisterRoutesWithGroup(e.Group("/authors"), db)
	libraries.RegisterRoutesWithGroup(e.Group("/libraries"), db)
	tasks.RegisterRoutesWithGroup(e.Group("/tasks"), db, runner)
	users.RegisterRoutesWithGroup(e.Group("/users"), db)
	settings.RegisterRoutes(e, config.NewService(cfg))

	if cfg.Environment == "test" {
		testutils.RegisterRoutes(e, db)
	}

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
