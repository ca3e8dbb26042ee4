package tasks

import (
	"context"
	"time"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// RecordDuration folds one run's duration into the per-type statistics row,
// maintaining the running mean avg' = (avg*(n-1) + d) / n.
func RecordDuration(ctx context.Context, db bun.IDB, taskType string, duration time.Duration) error {
	ms := float64(duration.Milliseconds())

	stat := &models.TaskStat{
		TaskType:      taskType,
		Runs:          1,
		AvgDurationMs: ms,
		MinDurationMs: ms,
		MaxDurationMs: ms,
		UpdatedAt:     time.Now(),
	}
	_, err := db.NewInsert().
		Model(stat).
		On("CONFLICT (task_type) DO UPDATE").
		Set("runs = ts.runs + 1").
		Set("avg_duration_ms = (ts.avg_duration_ms * ts.runs + EXCLUDED.avg_duration_ms) / (ts.runs + 1)").
		Set("min_duration_ms = MIN(ts.min_duration_ms, EXCLUDED.min_duration_ms)").
		Set("max_duration_ms = MAX(ts.max_duration_ms, EXCLUDED.max_duration_ms)").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return errors.WithStack(err)
}
