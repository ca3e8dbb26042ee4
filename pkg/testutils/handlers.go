package testutils

import (
	"net/http"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type handler struct {
	db *bun.DB
}

type createUserRequest struct {
	Username string `json:"username" validate:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// createUser seeds one user.
// POST /test/users.
func (h *handler) createUser(c echo.Context) error {
	ctx := c.Request().Context()

	params := createUserRequest{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	user := &models.User{
		Username: params.Username,
		IsAdmin:  params.IsAdmin,
	}
	_, err := h.db.NewInsert().Model(user).Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to create user")
	}

	return errors.WithStack(c.JSON(http.StatusCreated, user))
}

type createLibraryRequest struct {
	Name        string `json:"name" validate:"required"`
	CatalogPath string `json:"catalog_path" validate:"required"`
}

// createLibrary seeds one library pointing at a catalog fixture.
// POST /test/libraries.
func (h *handler) createLibrary(c echo.Context) error {
	ctx := c.Request().Context()

	params := createLibraryRequest{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	library := &models.Library{
		Name:        params.Name,
		CatalogPath: params.CatalogPath,
	}
	_, err := h.db.NewInsert().Model(library).Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to create library")
	}

	return errors.WithStack(c.JSON(http.StatusCreated, library))
}

type resetResponse struct {
	Reset bool `json:"reset"`
}

// resetScanState wipes everything a scan run produces, leaving users and
// libraries in place. Child rows go first because of foreign keys.
func (h *handler) resetScanState(c echo.Context) error {
	ctx := c.Request().Context()

	for _, model := range []interface{}{
		(*models.AuthorSimilarity)(nil),
		(*models.AuthorMapping)(nil),
		(*models.WorkSubject)(nil),
		(*models.AuthorWork)(nil),
		(*models.AuthorRemoteID)(nil),
		(*models.AuthorPhoto)(nil),
		(*models.AlternateName)(nil),
		(*models.AuthorLink)(nil),
		(*models.AuthorUserPhoto)(nil),
		(*models.AuthorUserMeta)(nil),
		(*models.AuthorMetadata)(nil),
		(*models.Task)(nil),
		(*models.TaskStat)(nil),
		(*models.BrokerMessage)(nil),
		(*models.BrokerCounter)(nil),
	} {
		_, err := h.db.NewDelete().Model(model).Where("1=1").Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to reset scan state")
		}
	}

	return errors.WithStack(c.JSON(http.StatusOK, resetResponse{Reset: true}))
}
