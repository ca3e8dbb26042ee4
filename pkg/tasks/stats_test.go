package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDuration(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	load := func() *models.TaskStat {
		stat := &models.TaskStat{}
		err := db.NewSelect().Model(stat).Where("task_type = ?", models.TaskTypeScan).Scan(ctx)
		require.NoError(t, err)
		return stat
	}

	require.NoError(t, RecordDuration(ctx, db, models.TaskTypeScan, 100*time.Millisecond))
	stat := load()
	assert.Equal(t, 1, stat.Runs)
	assert.Equal(t, 100.0, stat.AvgDurationMs)
	assert.Equal(t, 100.0, stat.MinDurationMs)
	assert.Equal(t, 100.0, stat.MaxDurationMs)

	require.NoError(t, RecordDuration(ctx, db, models.TaskTypeScan, 300*time.Millisecond))
	stat = load()
	assert.Equal(t, 2, stat.Runs)
	assert.Equal(t, 200.0, stat.AvgDurationMs)
	assert.Equal(t, 100.0, stat.MinDurationMs)
	assert.Equal(t, 300.0, stat.MaxDurationMs)

	require.NoError(t, RecordDuration(ctx, db, models.TaskTypeScan, 200*time.Millisecond))
	stat = load()
	assert.Equal(t, 3, stat.Runs)
	assert.InDelta(t, 200.0, stat.AvgDurationMs, 1e-9)

	// The running mean matches the true mean over many runs.
	durations := []time.Duration{50, 150, 250, 350, 450}
	var sum float64 = 100 + 300 + 200
	runs := 3
	for _, d := range durations {
		require.NoError(t, RecordDuration(ctx, db, models.TaskTypeScan, d*time.Millisecond))
		sum += float64(d)
		runs++
	}
	stat = load()
	assert.Equal(t, runs, stat.Runs)
	assert.InDelta(t, sum/float64(runs), stat.AvgDurationMs, 1e-6)
	assert.Equal(t, 50.0, stat.MinDurationMs)
	assert.Equal(t, 450.0, stat.MaxDurationMs)

	// Types do not bleed into each other.
	require.NoError(t, RecordDuration(ctx, db, models.TaskTypeRescore, 10*time.Millisecond))
	stat = load()
	assert.Equal(t, runs, stat.Runs)
}
