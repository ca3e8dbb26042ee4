package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/matching"
	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
)

// MatchStage resolves each crawled catalog author to a provider author. An
// existing fresh mapping is reused without a provider call; everything else
// goes through the strategy chain.
type MatchStage struct {
	authorService *authors.Service
	orchestrator  *matching.Orchestrator
}

func NewMatchStage(authorService *authors.Service, orchestrator *matching.Orchestrator) *MatchStage {
	return &MatchStage{
		authorService: authorService,
		orchestrator:  orchestrator,
	}
}

func (s *MatchStage) Name() string { return "match" }

func (s *MatchStage) Execute(ctx context.Context, run *Context) StageResult {
	log := logger.FromContext(ctx)
	now := time.Now()
	stats := map[string]int{"matched": 0, "skipped": 0, "unmatched": 0, "failed": 0}

	for i, author := range run.Authors {
		if err := run.CheckCancelled(); err != nil {
			return failureResult(err.Error(), stats)
		}

		mapping, err := s.authorService.RetrieveMapping(ctx, authors.RetrieveMappingOptions{
			CalibreAuthorID: pointerutil.Int(author.ID),
			LibraryID:       pointerutil.Int(run.Library.ID),
			IncludeAuthor:   true,
		})
		if err != nil {
			if !errors.Is(err, errcodes.NotFound("Mapping")) {
				return failureResult(fmt.Sprintf("loading mapping for %q: %v", author.Name, err), stats)
			}
			mapping = nil
		}

		target := matching.Target{Name: author.Name}
		if mapping != nil && mapping.Author != nil {
			if !run.Options.ForceRematch &&
				matching.ShouldSkipFetch(mapping.Author.LastSyncedAt, run.Options.Staleness, now) {
				// Fresh cached match: reuse without touching the provider.
				run.MatchResults[author.ID] = cachedResult(mapping)
				stats["skipped"]++
				s.reportProgress(run, i, len(run.Authors))
				continue
			}
			target.KnownKey = mapping.Author.OpenLibraryKey
		}

		result, err := s.orchestrator.Match(ctx, target)
		if err != nil {
			log.Warn("author match failed", logger.Data{
				"run_id": run.RunID,
				"author": author.Name,
				"error":  err.Error(),
			})
			stats["failed"]++
			s.reportProgress(run, i, len(run.Authors))
			continue
		}

		if result == nil {
			run.Unmatched = append(run.Unmatched, author)
			stats["unmatched"]++
		} else {
			run.MatchResults[author.ID] = result
			stats["matched"]++
		}
		s.reportProgress(run, i, len(run.Authors))
	}

	return successResult("authors matched", stats)
}

func (s *MatchStage) reportProgress(run *Context, done, total int) {
	run.ReportProgress(float64(done+1)/float64(total), map[string]interface{}{
		"step": "matching",
	})
}

// cachedResult rebuilds a match result from a persisted mapping so later
// stages see reused matches and fresh ones the same way.
func cachedResult(mapping *models.AuthorMapping) *matching.Result {
	summary := &metadata.AuthorSummary{Name: mapping.Author.Name}
	if mapping.Author.OpenLibraryKey != nil {
		summary.Key = *mapping.Author.OpenLibraryKey
	}
	return &matching.Result{
		Candidate:  summary,
		Confidence: mapping.Confidence,
		Method:     mapping.MatchMethod,
	}
}
