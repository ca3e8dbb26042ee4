package tasks

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers task routes on a pre-configured group.
// The runner is shared with the worker loop so enqueued tasks are picked up
// without polling races.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, runner Runner) {
	taskService := NewService(db)

	h := &handler{
		taskService: taskService,
		runner:      runner,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("", h.create)
	g.POST("/:id/cancel", h.cancel)
}
