package pipeline

import (
	"context"
)

// StageResult is the outcome of one stage. Stats carries small named
// counters (records matched, skipped, merged) surfaced in logs and task
// progress metadata.
type StageResult struct {
	Success bool
	Message string
	Stats   map[string]int
}

// Stage is one step of the scan pipeline. Stages are run strictly in order
// by the executor but are individually re-runnable: each reads its inputs
// from the run context and persists idempotently.
type Stage interface {
	Name() string
	Execute(ctx context.Context, run *Context) StageResult
}

func successResult(message string, stats map[string]int) StageResult {
	return StageResult{Success: true, Message: message, Stats: stats}
}

func failureResult(message string, stats map[string]int) StageResult {
	return StageResult{Success: false, Message: message, Stats: stats}
}
