package libraries

import (
	"net/http"
	"strconv"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	libraryService *Service
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CreateLibraryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	library := &models.Library{
		Name:        params.Name,
		CatalogPath: params.CatalogPath,
	}
	if err := h.libraryService.CreateLibrary(ctx, library); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, library))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Library")
	}

	library, err := h.libraryService.RetrieveLibrary(ctx, RetrieveLibraryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, library))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListLibrariesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	libraries, err := h.libraryService.ListLibraries(ctx, ListLibrariesOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Libraries []*models.Library `json:"libraries"`
	}{libraries}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Library")
	}

	// Bind params.
	params := UpdateLibraryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	library, err := h.libraryService.RetrieveLibrary(ctx, RetrieveLibraryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	columns := []string{}
	if params.Name != nil {
		library.Name = *params.Name
		columns = append(columns, "name")
	}
	if params.CatalogPath != nil {
		library.CatalogPath = *params.CatalogPath
		columns = append(columns, "catalog_path")
	}
	if len(columns) > 0 {
		err = h.libraryService.UpdateLibrary(ctx, library, UpdateLibraryOptions{Columns: columns})
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(c.JSON(http.StatusOK, library))
}

func (h *handler) delete(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Library")
	}

	library, err := h.libraryService.RetrieveLibrary(ctx, RetrieveLibraryOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	if err := h.libraryService.DeleteLibrary(ctx, library); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}
