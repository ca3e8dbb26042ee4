package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/htmlutil"
	"github.com/bibliograph/bibliograph/pkg/matching"
	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/bibliograph/bibliograph/pkg/scoring"
	"github.com/bibliograph/bibliograph/pkg/sortname"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/uptrace/bun"
)

// IngestStage fetches full provider records for every matched author and
// persists them. Each author is one unit of work; a provider failure marks
// that author failed and the batch continues.
type IngestStage struct {
	authorService *authors.Service
	provider      metadata.Provider
}

func NewIngestStage(authorService *authors.Service, provider metadata.Provider) *IngestStage {
	return &IngestStage{
		authorService: authorService,
		provider:      provider,
	}
}

func (s *IngestStage) Name() string { return "ingest" }

func (s *IngestStage) Execute(ctx context.Context, run *Context) StageResult {
	log := logger.FromContext(ctx)
	now := time.Now()
	stats := map[string]int{"ingested": 0, "skipped": 0, "failed": 0}

	// Several catalog authors can match the same provider author; ingest
	// each provider key once.
	keys := []string{}
	seen := map[string]bool{}
	for _, result := range run.MatchResults {
		key := result.Candidate.Key
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}

	for i, key := range keys {
		if err := run.CheckCancelled(); err != nil {
			return failureResult(err.Error(), stats)
		}

		existing, err := s.authorService.RetrieveAuthor(ctx, authors.RetrieveAuthorOptions{
			OpenLibraryKey: pointerutil.String(key),
		})
		if err != nil && !errors.Is(err, errcodes.NotFound("Author")) {
			return failureResult(fmt.Sprintf("loading author %s: %v", key, err), stats)
		}

		if existing != nil {
			run.IngestedAuthors[key] = existing.ID
			if !run.Options.ForceRematch &&
				matching.ShouldSkipFetch(existing.LastSyncedAt, run.Options.Staleness, now) {
				stats["skipped"]++
				s.reportProgress(run, i, len(keys))
				continue
			}
		}

		authorID, err := s.ingestOne(ctx, run, key, existing)
		if err != nil {
			log.Warn("author ingest failed", logger.Data{
				"run_id": run.RunID,
				"key":    key,
				"error":  err.Error(),
			})
			stats["failed"]++
			s.reportProgress(run, i, len(keys))
			continue
		}

		run.IngestedAuthors[key] = authorID
		stats["ingested"]++
		s.reportProgress(run, i, len(keys))
	}

	return successResult("provider records ingested", stats)
}

func (s *IngestStage) reportProgress(run *Context, done, total int) {
	run.ReportProgress(float64(done+1)/float64(total), map[string]interface{}{
		"step": "ingesting",
	})
}

// ingestOne fetches one provider author plus works and writes everything in
// a single transaction.
func (s *IngestStage) ingestOne(ctx context.Context, run *Context, key string, existing *models.AuthorMetadata) (int, error) {
	detail, err := s.provider.GetAuthor(ctx, key)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	works, err := s.provider.GetAuthorWorks(ctx, key, run.Options.MaxWorksPerAuthor)
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return 0, errors.WithStack(err)
	}
	if max := run.Options.MaxWorksPerAuthor; max > 0 && len(works) > max {
		works = works[:max]
	}

	var authorID int
	err = run.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		author, err := s.upsertAuthor(ctx, tx, detail, existing)
		if err != nil {
			return err
		}
		authorID = author.ID

		if err := s.replaceChildren(ctx, tx, author.ID, detail); err != nil {
			return err
		}
		return s.replaceWorks(ctx, tx, author.ID, works, run.Options.MaxSubjectsPerWork)
	})
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return authorID, nil
}

func (s *IngestStage) upsertAuthor(ctx context.Context, tx bun.Tx, detail *metadata.AuthorDetail, existing *models.AuthorMetadata) (*models.AuthorMetadata, error) {
	now := time.Now()

	author := existing
	if author == nil {
		author = &models.AuthorMetadata{}
	}
	author.Name = detail.Name
	author.SortName = sortname.ForPerson(detail.Name)
	author.OpenLibraryKey = pointerutil.String(detail.Key)
	if detail.Biography != "" {
		// Provider biographies frequently carry embedded markup.
		author.Biography = pointerutil.String(htmlutil.StripTags(detail.Biography))
	}
	if detail.BirthDate != "" {
		author.BirthDate = pointerutil.String(detail.BirthDate)
	}
	if detail.DeathDate != "" {
		author.DeathDate = pointerutil.String(detail.DeathDate)
	}
	author.WorkCount = detail.WorkCount
	author.RatingsCount = detail.RatingsCount
	author.AverageRating = detail.AverageRating
	author.LastSyncedAt = &now

	if existing == nil {
		if err := s.authorService.CreateAuthorTx(ctx, tx, author); err != nil {
			return nil, err
		}
		return author, nil
	}

	err := s.authorService.UpdateAuthorTx(ctx, tx, author, authors.UpdateAuthorOptions{
		Columns: []string{
			"name", "sort_name", "openlibrary_key", "biography", "birth_date",
			"death_date", "work_count", "ratings_count", "average_rating",
			"last_synced_at",
		},
	})
	if err != nil {
		return nil, err
	}
	return author, nil
}

// replaceChildren rewrites the provider-owned child rows from the fresh
// payload. User rows are untouched.
func (s *IngestStage) replaceChildren(ctx context.Context, tx bun.Tx, authorID int, detail *metadata.AuthorDetail) error {
	for _, model := range []interface{}{
		(*models.AuthorRemoteID)(nil),
		(*models.AuthorPhoto)(nil),
		(*models.AlternateName)(nil),
		(*models.AuthorLink)(nil),
	} {
		_, err := tx.NewDelete().Model(model).Where("author_id = ?", authorID).Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	remoteIDs := []*models.AuthorRemoteID{{
		AuthorID: authorID,
		IDType:   models.RemoteIDTypeOpenLibrary,
		Value:    detail.Key,
	}}
	for idType, value := range detail.RemoteIDs {
		if idType == models.RemoteIDTypeOpenLibrary || value == "" {
			continue
		}
		remoteIDs = append(remoteIDs, &models.AuthorRemoteID{
			AuthorID: authorID,
			IDType:   idType,
			Value:    value,
		})
	}
	if _, err := tx.NewInsert().Model(&remoteIDs).Exec(ctx); err != nil {
		return errors.WithStack(err)
	}

	if len(detail.PhotoURLs) > 0 {
		photos := make([]*models.AuthorPhoto, 0, len(detail.PhotoURLs))
		seen := map[string]bool{}
		for i, url := range detail.PhotoURLs {
			if url == "" || seen[url] {
				continue
			}
			seen[url] = true
			photos = append(photos, &models.AuthorPhoto{
				AuthorID:  authorID,
				URL:       url,
				IsPrimary: i == 0,
			})
		}
		if len(photos) > 0 {
			if _, err := tx.NewInsert().Model(&photos).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
	}

	if len(detail.AlternateNames) > 0 {
		aliases := make([]*models.AlternateName, 0, len(detail.AlternateNames))
		seen := map[string]bool{}
		for _, name := range detail.AlternateNames {
			if name == "" || name == detail.Name || seen[name] {
				continue
			}
			seen[name] = true
			aliases = append(aliases, &models.AlternateName{AuthorID: authorID, Name: name})
		}
		if len(aliases) > 0 {
			if _, err := tx.NewInsert().Model(&aliases).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
	}

	if len(detail.Links) > 0 {
		links := make([]*models.AuthorLink, 0, len(detail.Links))
		seen := map[string]bool{}
		for _, link := range detail.Links {
			if link.URL == "" || seen[link.URL] {
				continue
			}
			seen[link.URL] = true
			links = append(links, &models.AuthorLink{
				AuthorID: authorID,
				Title:    link.Title,
				URL:      link.URL,
			})
		}
		if len(links) > 0 {
			if _, err := tx.NewInsert().Model(&links).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
	}

	return nil
}

func (s *IngestStage) replaceWorks(ctx context.Context, tx bun.Tx, authorID int, works []*metadata.Work, maxSubjects int) error {
	existing := []*models.AuthorWork{}
	err := tx.NewSelect().Model(&existing).Where("author_id = ?", authorID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, work := range existing {
		_, err := tx.NewDelete().Model((*models.WorkSubject)(nil)).Where("work_id = ?", work.ID).Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	_, err = tx.NewDelete().Model((*models.AuthorWork)(nil)).Where("author_id = ?", authorID).Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	now := time.Now()
	seen := map[string]bool{}
	for _, work := range works {
		if work.Key == "" || seen[work.Key] {
			continue
		}
		seen[work.Key] = true

		row := &models.AuthorWork{
			AuthorID:       authorID,
			WorkKey:        work.Key,
			Title:          work.Title,
			SortTitle:      sortname.ForTitle(work.Title),
			FirstPublished: work.FirstPublished,
			RatingsCount:   work.RatingsCount,
			AverageRating:  work.AverageRating,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}

		subjects := dedupeSubjects(work.Subjects, maxSubjects)
		for _, subject := range subjects {
			sub := &models.WorkSubject{WorkID: row.ID, Subject: subject}
			if _, err := tx.NewInsert().Model(sub).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
	}

	return nil
}

func dedupeSubjects(subjects []string, max int) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, subject := range subjects {
		normalized := scoring.NormalizeSubject(subject)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
