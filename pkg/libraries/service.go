package libraries

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveLibraryOptions struct {
	ID *int
}

type ListLibrariesOptions struct {
	Limit  *int
	Offset *int
}

type UpdateLibraryOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateLibrary(ctx context.Context, library *models.Library) error {
	now := time.Now()
	if library.CreatedAt.IsZero() {
		library.CreatedAt = now
	}
	library.UpdatedAt = library.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(library).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveLibrary(ctx context.Context, opts RetrieveLibraryOptions) (*models.Library, error) {
	library := &models.Library{}

	q := svc.db.
		NewSelect().
		Model(library).
		Where("l.deleted_at IS NULL")

	if opts.ID != nil {
		q = q.Where("l.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Library")
		}
		return nil, errors.WithStack(err)
	}

	return library, nil
}

func (svc *Service) ListLibraries(ctx context.Context, opts ListLibrariesOptions) ([]*models.Library, error) {
	libraries := []*models.Library{}

	q := svc.db.
		NewSelect().
		Model(&libraries).
		Where("l.deleted_at IS NULL").
		Order("l.name ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return libraries, nil
}

func (svc *Service) UpdateLibrary(ctx context.Context, library *models.Library, opts UpdateLibraryOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	library.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(library).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Library")
		}
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) DeleteLibrary(ctx context.Context, library *models.Library) error {
	now := time.Now()
	library.DeletedAt = &now
	return svc.UpdateLibrary(ctx, library, UpdateLibraryOptions{Columns: []string{"deleted_at"}})
}
