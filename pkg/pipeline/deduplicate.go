package pipeline

import (
	"context"
	"fmt"

	"github.com/bibliograph/bibliograph/pkg/dedupe"
	"github.com/robinjoseph08/golib/logger"
)

// DeduplicateStage detects near-identical persisted author records and
// folds each duplicate into its keeper.
type DeduplicateStage struct{}

func NewDeduplicateStage() *DeduplicateStage {
	return &DeduplicateStage{}
}

func (s *DeduplicateStage) Name() string { return "deduplicate" }

func (s *DeduplicateStage) Execute(ctx context.Context, run *Context) StageResult {
	log := logger.FromContext(ctx)
	stats := map[string]int{"candidates": 0, "merged": 0, "failed": 0}

	detector := dedupe.NewDetector(run.DB, run.Options.SimilarityThreshold)
	pairs, err := detector.FindDuplicates(ctx, run.Library.ID)
	if err != nil {
		return failureResult(fmt.Sprintf("detecting duplicates: %v", err), stats)
	}
	stats["candidates"] = len(pairs)

	merger := dedupe.NewMerger(run.DB)
	merged := map[int]bool{}
	for i, pair := range pairs {
		if err := run.CheckCancelled(); err != nil {
			return failureResult(err.Error(), stats)
		}

		// A record folded into another earlier in this run can't take
		// part in a second merge; the next scan will pick the pair up
		// again if it still exists.
		if merged[pair.Keep.ID] || merged[pair.Merge.ID] {
			continue
		}

		if err := merger.Merge(ctx, pair.Keep, pair.Merge); err != nil {
			log.Warn("author merge failed", logger.Data{
				"run_id":   run.RunID,
				"keep_id":  pair.Keep.ID,
				"merge_id": pair.Merge.ID,
				"error":    err.Error(),
			})
			stats["failed"]++
			continue
		}

		merged[pair.Merge.ID] = true
		stats["merged"]++
		run.ReportProgress(float64(i+1)/float64(len(pairs)), map[string]interface{}{
			"step": "merging",
		})
	}

	return successResult("duplicates merged", stats)
}
