package users

import (
	"net/http"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	userService *Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	users, err := h.userService.ListUsers(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Users []*models.User `json:"users"`
	}{users}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
