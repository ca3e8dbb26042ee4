package authors

import (
	"net/http"
	"strconv"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	authorService *Service
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListAuthorsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	authors, total, err := h.authorService.ListAuthorsWithTotal(ctx, ListAuthorsOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
		Search: params.Search,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Authors []*models.AuthorMetadata `json:"authors"`
		Total   int                      `json:"total"`
	}{authors, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Author")
	}

	author, err := h.authorService.RetrieveAuthor(ctx, RetrieveAuthorOptions{
		ID:              &id,
		IncludeChildren: true,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, author))
}

// similar returns the author's similarity edges, each annotated with the
// record on the far side of the edge.
func (h *handler) similar(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Author")
	}

	// 404 on unknown authors instead of returning an empty list.
	if _, err := h.authorService.RetrieveAuthor(ctx, RetrieveAuthorOptions{ID: &id}); err != nil {
		return errors.WithStack(err)
	}

	params := ListSimilarQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	edges, err := h.authorService.ListSimilar(ctx, id, params.Limit)
	if err != nil {
		return errors.WithStack(err)
	}

	similar := make([]*SimilarAuthor, 0, len(edges))
	for _, edge := range edges {
		otherID := edge.OtherID
		if otherID == id {
			otherID = edge.AuthorID
		}
		other, err := h.authorService.RetrieveAuthor(ctx, RetrieveAuthorOptions{ID: &otherID})
		if err != nil {
			return errors.WithStack(err)
		}
		similar = append(similar, &SimilarAuthor{Author: other, Score: edge.Score})
	}

	resp := struct {
		Similar []*SimilarAuthor `json:"similar"`
	}{similar}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

// SimilarAuthor pairs a neighbor in the similarity graph with its edge score.
type SimilarAuthor struct {
	Author *models.AuthorMetadata `json:"author"`
	Score  float64                `json:"score"`
}
