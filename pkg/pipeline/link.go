package pipeline

import (
	"context"
	"time"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/robinjoseph08/golib/logger"
)

// LinkStage binds each successfully matched catalog author to its ingested
// canonical record through an AuthorMapping. Upserts are idempotent, so
// re-running a scan refreshes confidence and method in place.
type LinkStage struct {
	authorService *authors.Service
}

func NewLinkStage(authorService *authors.Service) *LinkStage {
	return &LinkStage{authorService: authorService}
}

func (s *LinkStage) Name() string { return "link" }

func (s *LinkStage) Execute(ctx context.Context, run *Context) StageResult {
	log := logger.FromContext(ctx)
	stats := map[string]int{"linked": 0, "skipped": 0}

	i := 0
	for calibreAuthorID, result := range run.MatchResults {
		if err := run.CheckCancelled(); err != nil {
			return failureResult(err.Error(), stats)
		}
		i++

		authorID, ok := run.IngestedAuthors[result.Candidate.Key]
		if !ok {
			// Ingest failed or skipped this provider record without a
			// persisted row; nothing to bind yet.
			stats["skipped"]++
			continue
		}

		mapping := &models.AuthorMapping{
			LibraryID:       run.Library.ID,
			CalibreAuthorID: calibreAuthorID,
			AuthorID:        authorID,
			MatchMethod:     result.Method,
			Confidence:      result.Confidence,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := s.authorService.UpsertMappingTx(ctx, run.DB, mapping); err != nil {
			log.Warn("mapping upsert failed", logger.Data{
				"run_id":            run.RunID,
				"calibre_author_id": calibreAuthorID,
				"error":             err.Error(),
			})
			stats["skipped"]++
			continue
		}

		stats["linked"]++
		run.ReportProgress(float64(i)/float64(len(run.MatchResults)), map[string]interface{}{
			"step": "linking",
		})
	}

	return successResult("mappings linked", stats)
}
