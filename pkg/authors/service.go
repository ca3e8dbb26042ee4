package authors

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveAuthorOptions struct {
	ID              *int
	OpenLibraryKey  *string
	IncludeChildren bool
}

type ListAuthorsOptions struct {
	Limit  *int
	Offset *int
	Search *string

	includeTotal bool
}

type UpdateAuthorOptions struct {
	Columns []string
}

type RetrieveMappingOptions struct {
	CalibreAuthorID *int
	LibraryID       *int
	IncludeAuthor   bool
}

type ListMappingsOptions struct {
	LibraryID *int
	AuthorID  *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateAuthor(ctx context.Context, author *models.AuthorMetadata) error {
	return svc.CreateAuthorTx(ctx, svc.db, author)
}

// CreateAuthorTx inserts an author on the given handle so callers can batch
// the insert with child rows in one unit of work.
func (svc *Service) CreateAuthorTx(ctx context.Context, idb bun.IDB, author *models.AuthorMetadata) error {
	now := time.Now()
	if author.CreatedAt.IsZero() {
		author.CreatedAt = now
	}
	author.UpdatedAt = author.CreatedAt

	_, err := idb.
		NewInsert().
		Model(author).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveAuthor(ctx context.Context, opts RetrieveAuthorOptions) (*models.AuthorMetadata, error) {
	author := &models.AuthorMetadata{}

	q := svc.db.
		NewSelect().
		Model(author)

	if opts.ID != nil {
		q = q.Where("am.id = ?", *opts.ID)
	}
	if opts.OpenLibraryKey != nil {
		q = q.Where("am.openlibrary_key = ?", *opts.OpenLibraryKey)
	}
	if opts.IncludeChildren {
		q = q.
			Relation("RemoteIDs").
			Relation("Photos").
			Relation("AlternateNames").
			Relation("Links").
			Relation("Works", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Order("w.sort_title ASC")
			}).
			Relation("Works.Subjects").
			Relation("UserMetadata").
			Relation("UserPhotos")
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Author")
		}
		return nil, errors.WithStack(err)
	}

	return author, nil
}

func (svc *Service) ListAuthors(ctx context.Context, opts ListAuthorsOptions) ([]*models.AuthorMetadata, error) {
	a, _, err := svc.listAuthorsWithTotal(ctx, opts)
	return a, errors.WithStack(err)
}

func (svc *Service) ListAuthorsWithTotal(ctx context.Context, opts ListAuthorsOptions) ([]*models.AuthorMetadata, int, error) {
	opts.includeTotal = true
	return svc.listAuthorsWithTotal(ctx, opts)
}

func (svc *Service) listAuthorsWithTotal(ctx context.Context, opts ListAuthorsOptions) ([]*models.AuthorMetadata, int, error) {
	authors := []*models.AuthorMetadata{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&authors).
		Order("am.sort_name ASC", "am.id ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Search != nil {
		q = q.Where("am.name LIKE ?", "%"+*opts.Search+"%")
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return authors, total, nil
}

func (svc *Service) UpdateAuthor(ctx context.Context, author *models.AuthorMetadata, opts UpdateAuthorOptions) error {
	return svc.UpdateAuthorTx(ctx, svc.db, author, opts)
}

func (svc *Service) UpdateAuthorTx(ctx context.Context, idb bun.IDB, author *models.AuthorMetadata, opts UpdateAuthorOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	now := time.Now()
	author.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := idb.
		NewUpdate().
		Model(author).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Author")
		}
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveMapping(ctx context.Context, opts RetrieveMappingOptions) (*models.AuthorMapping, error) {
	mapping := &models.AuthorMapping{}

	q := svc.db.
		NewSelect().
		Model(mapping)

	if opts.CalibreAuthorID != nil {
		q = q.Where("map.calibre_author_id = ?", *opts.CalibreAuthorID)
	}
	if opts.LibraryID != nil {
		q = q.Where("map.library_id = ?", *opts.LibraryID)
	}
	if opts.IncludeAuthor {
		q = q.Relation("Author")
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Mapping")
		}
		return nil, errors.WithStack(err)
	}

	return mapping, nil
}

// UpsertMapping creates or updates the mapping binding one catalog author to
// a canonical author within a library. Re-running a scan is idempotent.
func (svc *Service) UpsertMapping(ctx context.Context, mapping *models.AuthorMapping) error {
	return svc.UpsertMappingTx(ctx, svc.db, mapping)
}

// UpsertMappingTx is UpsertMapping against a caller-provided transaction, so
// a pipeline run can keep all of its writes on one unit of work.
func (svc *Service) UpsertMappingTx(ctx context.Context, idb bun.IDB, mapping *models.AuthorMapping) error {
	existing := &models.AuthorMapping{}
	err := idb.
		NewSelect().
		Model(existing).
		Where("map.calibre_author_id = ?", mapping.CalibreAuthorID).
		Where("map.library_id = ?", mapping.LibraryID).
		Scan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return errors.WithStack(err)
		}
		existing = nil
	}

	now := time.Now()
	if existing != nil {
		existing.AuthorID = mapping.AuthorID
		existing.MatchMethod = mapping.MatchMethod
		existing.Confidence = mapping.Confidence
		existing.UpdatedAt = now

		_, err := idb.
			NewUpdate().
			Model(existing).
			Column("author_id", "match_method", "confidence", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		*mapping = *existing
		return nil
	}

	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	_, err = idb.
		NewInsert().
		Model(mapping).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) ListMappings(ctx context.Context, opts ListMappingsOptions) ([]*models.AuthorMapping, error) {
	mappings := []*models.AuthorMapping{}

	q := svc.db.
		NewSelect().
		Model(&mappings).
		Order("map.id ASC")

	if opts.LibraryID != nil {
		q = q.Where("map.library_id = ?", *opts.LibraryID)
	}
	if opts.AuthorID != nil {
		q = q.Where("map.author_id = ?", *opts.AuthorID)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return mappings, nil
}

// UpsertSimilarity stores the similarity edge for an author pair in canonical
// lower-id-first direction, replacing any prior score.
func (svc *Service) UpsertSimilarity(ctx context.Context, a, b int, score float64) error {
	return svc.UpsertSimilarityTx(ctx, svc.db, a, b, score)
}

// UpsertSimilarityTx is UpsertSimilarity against a caller-provided
// transaction.
func (svc *Service) UpsertSimilarityTx(ctx context.Context, idb bun.IDB, a, b int, score float64) error {
	if a == b {
		return errors.New("similarity edges must connect two distinct authors")
	}
	lo, hi := models.CanonicalPair(a, b)

	now := time.Now()
	sim := &models.AuthorSimilarity{
		AuthorID:  lo,
		OtherID:   hi,
		Score:     score,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := idb.
		NewInsert().
		Model(sim).
		On("CONFLICT (author_id, other_id) DO UPDATE").
		Set("score = EXCLUDED.score").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return errors.WithStack(err)
}

// ListSimilar returns similarity edges touching the author, strongest first.
func (svc *Service) ListSimilar(ctx context.Context, authorID int, limit int) ([]*models.AuthorSimilarity, error) {
	sims := []*models.AuthorSimilarity{}

	q := svc.db.
		NewSelect().
		Model(&sims).
		Where("sim.author_id = ? OR sim.other_id = ?", authorID, authorID).
		Order("sim.score DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return sims, nil
}
