package tasks

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// cancelPollInterval caps how often the executor re-reads the durable
// cancellation flag.
const cancelPollInterval = time.Second

// progressCeiling caps handler-reported progress. Exactly 1.0 is reserved
// for the completed transition, so a task that fails after its handler
// reported full progress never sits at 1.0.
const progressCeiling = 0.999

// Executor owns the lifecycle bookkeeping around one task run: the
// transition to running, progress writes, the terminal transition, and
// duration statistics. Runners hand it claimed tasks.
type Executor struct {
	db       *bun.DB
	service  *Service
	registry *Registry
}

func NewExecutor(db *bun.DB, service *Service, registry *Registry) *Executor {
	return &Executor{
		db:       db,
		service:  service,
		registry: registry,
	}
}

// Execute runs a claimed task to a terminal status. A cancellation that
// landed before execution starts finalizes the task as cancelled without it
// ever being marked running.
func (e *Executor) Execute(ctx context.Context, task *models.Task) {
	log := logger.FromContext(ctx)

	// Re-read the durable cancel flag: a cancel requested between claim and
	// execution wins before any work starts.
	cancelled, err := e.cancelRequested(ctx, task.ID)
	if err != nil {
		log.Err(err).Error("checking cancel flag")
	}
	if cancelled {
		e.finish(ctx, task, models.TaskStatusCancelled, nil)
		return
	}

	handler, err := e.registry.Handler(task.Type)
	if err != nil {
		e.finish(ctx, task, models.TaskStatusFailed, err)
		return
	}

	now := time.Now()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	err = e.service.UpdateTask(ctx, task, UpdateTaskOptions{Columns: []string{"status", "started_at"}})
	if err != nil {
		log.Err(err).Error("marking task running")
		return
	}

	report := e.progressReporter(ctx, task)
	poll := e.cancelPoller(ctx, task)

	err = e.runHandler(ctx, handler, task, report, poll)
	switch {
	case errors.Is(err, ErrTaskCancelled) || poll():
		e.finish(ctx, task, models.TaskStatusCancelled, nil)
	case err != nil:
		e.finish(ctx, task, models.TaskStatusFailed, err)
	default:
		e.finish(ctx, task, models.TaskStatusCompleted, nil)
	}
}

// runHandler isolates handler panics so a broken handler cannot take the
// worker down with it.
func (e *Executor) runHandler(ctx context.Context, handler HandlerFunc, task *models.Task, report ProgressReporter, poll func() bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("critical error: %v", r)
		}
	}()
	return handler(ctx, task, report, poll)
}

// progressReporter persists progress writes, clamped to [0,1] and monotonic
// within this execution.
func (e *Executor) progressReporter(ctx context.Context, task *models.Task) ProgressReporter {
	log := logger.FromContext(ctx)
	var mu sync.Mutex
	last := task.Progress

	return func(progress float64) {
		mu.Lock()
		defer mu.Unlock()

		if progress < 0 {
			progress = 0
		}
		if progress > progressCeiling {
			progress = progressCeiling
		}
		if progress < last {
			return
		}
		last = progress

		task.Progress = progress
		err := e.service.UpdateTask(ctx, task, UpdateTaskOptions{Columns: []string{"progress"}})
		if err != nil {
			log.Err(err).Error("updating task progress")
		}
	}
}

// cancelPoller reads the durable cancel flag, at most once per poll
// interval. Once cancellation is observed it sticks.
func (e *Executor) cancelPoller(ctx context.Context, task *models.Task) func() bool {
	log := logger.FromContext(ctx)
	var mu sync.Mutex
	var lastCheck time.Time
	cancelled := false

	return func() bool {
		mu.Lock()
		defer mu.Unlock()

		if cancelled {
			return true
		}
		if time.Since(lastCheck) < cancelPollInterval {
			return false
		}
		lastCheck = time.Now()

		requested, err := e.cancelRequested(ctx, task.ID)
		if err != nil {
			log.Err(err).Error("checking cancel flag")
			return false
		}
		cancelled = requested
		return cancelled
	}
}

func (e *Executor) cancelRequested(ctx context.Context, taskID int) (bool, error) {
	var requested bool
	err := e.db.NewSelect().
		Model((*models.Task)(nil)).
		Column("cancel_requested").
		Where("id = ?", taskID).
		Scan(ctx, &requested)
	return requested, errors.WithStack(err)
}

// finish writes the terminal transition. Statistics bookkeeping must never
// fail the task, so stat errors are logged and swallowed.
func (e *Executor) finish(ctx context.Context, task *models.Task, status string, taskErr error) {
	log := logger.FromContext(ctx)
	now := time.Now()

	task.Status = status
	task.EndedAt = &now
	columns := []string{"status", "ended_at"}

	if status == models.TaskStatusCompleted {
		task.Progress = 1
		columns = append(columns, "progress")
	} else if task.Progress >= 1 {
		task.Progress = progressCeiling
		columns = append(columns, "progress")
	}
	if taskErr != nil {
		message := taskErr.Error()
		if len(message) > models.TaskErrorMaxLen {
			cut := models.TaskErrorMaxLen
			for cut > 0 && !utf8.RuneStart(message[cut]) {
				cut--
			}
			message = message[:cut]
		}
		task.Error = &message
		columns = append(columns, "error")
	}

	err := e.service.UpdateTask(ctx, task, UpdateTaskOptions{Columns: columns})
	if err != nil {
		log.Err(err).Error("finalizing task")
		return
	}

	if task.StartedAt != nil && status != models.TaskStatusCancelled {
		if err := RecordDuration(ctx, e.db, task.Type, now.Sub(*task.StartedAt)); err != nil {
			log.Err(err).Error("recording task stats")
		}
	}

	log.Info("task finished", logger.Data{
		"task_id": task.ID,
		"type":    task.Type,
		"status":  status,
	})
}
