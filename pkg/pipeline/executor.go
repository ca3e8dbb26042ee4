package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/robinjoseph08/golib/logger"
)

// StageOutcome pairs a stage's name with its result. Summaries keep
// outcomes in execution order.
type StageOutcome struct {
	Stage  string
	Result StageResult
}

// Summary is the outcome of a full pipeline run. Success is the AND of
// every executed stage's success; a cancelled run is never successful.
type Summary struct {
	Success         bool
	Cancelled       bool
	CompletedStages int
	TotalStages     int
	Duration        time.Duration
	Results         []StageOutcome
}

// Executor runs stages strictly in order, rescaling each stage's local
// progress into the run's overall progress.
type Executor struct {
	stages []Stage
}

func NewExecutor(stages ...Stage) *Executor {
	return &Executor{stages: stages}
}

// Execute runs every stage in order. A stage failure is recorded and
// execution continues with the next stage; a panic inside a stage is
// recovered and treated the same way. Cancellation is checked at the top of
// the loop and aborts the run immediately.
func (e *Executor) Execute(ctx context.Context, run *Context) Summary {
	log := logger.FromContext(ctx)
	start := time.Now()

	summary := Summary{
		Success:     true,
		TotalStages: len(e.stages),
	}

	for i, stage := range e.stages {
		if run.Cancel.Cancelled() {
			summary.Success = false
			summary.Cancelled = true
			break
		}

		log.Info("executing pipeline stage", logger.Data{
			"run_id": run.RunID,
			"stage":  stage.Name(),
		})

		completed := float64(i)
		total := float64(len(e.stages))
		stageRun := run.withStageWindow(completed/total, 1/total)

		result := e.executeStage(ctx, stage, stageRun)
		summary.Results = append(summary.Results, StageOutcome{Stage: stage.Name(), Result: result})
		summary.CompletedStages++

		if !result.Success {
			summary.Success = false
			log.Warn("pipeline stage failed", logger.Data{
				"run_id":  run.RunID,
				"stage":   stage.Name(),
				"message": result.Message,
			})
			continue
		}

		data := logger.Data{
			"run_id": run.RunID,
			"stage":  stage.Name(),
		}
		for name, count := range result.Stats {
			data[name] = count
		}
		log.Info("pipeline stage complete", data)
	}

	summary.Duration = time.Since(start)
	return summary
}

func (e *Executor) executeStage(ctx context.Context, stage Stage, run *Context) (result StageResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failureResult(fmt.Sprintf("critical error: %v", r), nil)
		}
	}()
	return stage.Execute(ctx, run)
}
