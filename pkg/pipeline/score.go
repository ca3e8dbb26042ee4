package pipeline

import (
	"context"
	"fmt"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/bibliograph/bibliograph/pkg/scoring"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// ScoreStage computes composite similarity for author pairs and persists
// edges above the minimum score. With a target author set it scores only
// that author against everyone else; otherwise it scores all pairs.
type ScoreStage struct {
	authorService *authors.Service
}

func NewScoreStage(authorService *authors.Service) *ScoreStage {
	return &ScoreStage{authorService: authorService}
}

func (s *ScoreStage) Name() string { return "score" }

func (s *ScoreStage) Execute(ctx context.Context, run *Context) StageResult {
	log := logger.FromContext(ctx)
	stats := map[string]int{"pairs": 0, "scored": 0}

	profiles, err := loadProfiles(ctx, run.DB)
	if err != nil {
		return failureResult(fmt.Sprintf("loading author profiles: %v", err), stats)
	}
	if len(profiles) < 2 {
		return successResult("not enough authors to score", stats)
	}

	pairs := buildPairs(profiles, run.Options.TargetAuthorID)
	for i, pair := range pairs {
		if err := run.CheckCancelled(); err != nil {
			return failureResult(err.Error(), stats)
		}
		stats["pairs"]++

		score := scoring.Composite(pair[0], pair[1])
		if score < run.Options.MinSimilarityScore {
			continue
		}

		err := s.authorService.UpsertSimilarityTx(ctx, run.DB, pair[0].AuthorID, pair[1].AuthorID, score)
		if err != nil {
			log.Warn("similarity upsert failed", logger.Data{
				"run_id":    run.RunID,
				"author_id": pair[0].AuthorID,
				"other_id":  pair[1].AuthorID,
				"error":     err.Error(),
			})
			continue
		}
		stats["scored"]++

		run.ReportProgress(float64(i+1)/float64(len(pairs)), map[string]interface{}{
			"step": "scoring",
		})
	}

	return successResult("similarity scored", stats)
}

func loadProfiles(ctx context.Context, db bun.IDB) ([]*scoring.Profile, error) {
	records := []*models.AuthorMetadata{}
	err := db.NewSelect().
		Model(&records).
		Relation("Works").
		Relation("Works.Subjects").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]*scoring.Profile, 0, len(records))
	for _, record := range records {
		profile := &scoring.Profile{
			AuthorID:      record.ID,
			Subjects:      map[string]bool{},
			AverageRating: record.AverageRating,
			WorkCount:     record.WorkCount,
			BirthYear:     scoring.ParseYear(record.BirthDate),
			DeathYear:     scoring.ParseYear(record.DeathDate),
		}
		for _, work := range record.Works {
			for _, subject := range work.Subjects {
				profile.Subjects[scoring.NormalizeSubject(subject.Subject)] = true
			}
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func buildPairs(profiles []*scoring.Profile, targetAuthorID int) [][2]*scoring.Profile {
	pairs := [][2]*scoring.Profile{}

	if targetAuthorID > 0 {
		var target *scoring.Profile
		for _, profile := range profiles {
			if profile.AuthorID == targetAuthorID {
				target = profile
				break
			}
		}
		if target == nil {
			return nil
		}
		for _, profile := range profiles {
			if profile.AuthorID != targetAuthorID {
				pairs = append(pairs, [2]*scoring.Profile{target, profile})
			}
		}
		return pairs
	}

	for i := 0; i < len(profiles); i++ {
		for j := i + 1; j < len(profiles); j++ {
			pairs = append(pairs, [2]*scoring.Profile{profiles[i], profiles[j]})
		}
	}
	return pairs
}
