package tasks

import (
	"net/http"
	"strconv"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	taskService *Service
	runner      Runner
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CreateTaskPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	// Only one scan makes progress at a time; reject a second one up front.
	if params.Type == models.TaskTypeScan {
		hasActive, err := h.taskService.HasActiveTaskByType(ctx, models.TaskTypeScan)
		if err != nil {
			return errors.WithStack(err)
		}
		if hasActive {
			return errcodes.Conflict("A scan task is already running or pending.")
		}
	}

	taskID, err := h.runner.Enqueue(ctx, params.Type, params.Data, nil)
	if err != nil {
		return errors.WithStack(err)
	}

	task, err := h.taskService.RetrieveTask(ctx, RetrieveTaskOptions{
		ID: &taskID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, task))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Task")
	}

	task, err := h.taskService.RetrieveTask(ctx, RetrieveTaskOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, task))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListTasksQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListTasksOptions{
		Limit:    &params.Limit,
		Offset:   &params.Offset,
		Statuses: params.Status,
	}
	if params.Type != nil {
		opts.Types = []string{*params.Type}
	}

	tasks, total, err := h.taskService.ListTasksWithTotal(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Tasks []*models.Task `json:"tasks"`
		Total int            `json:"total"`
	}{tasks, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Task")
	}

	task, err := h.taskService.RequestCancel(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, task))
}
