package tasks

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

type RetrieveTaskOptions struct {
	ID *int
}

type ListTasksOptions struct {
	Limit    *int
	Offset   *int
	Statuses []string
	Types    []string

	includeTotal bool
}

type UpdateTaskOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateTask(ctx context.Context, task *models.Task) error {
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	if task.Data == "" && task.DataParsed != nil {
		data, err := json.Marshal(task.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		task.Data = string(data)
	}

	_, err := svc.db.
		NewInsert().
		Model(task).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveTask(ctx context.Context, opts RetrieveTaskOptions) (*models.Task, error) {
	task := &models.Task{}

	q := svc.db.
		NewSelect().
		Model(task)

	if opts.ID != nil {
		q = q.Where("t.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Task")
		}
		return nil, errors.WithStack(err)
	}

	if task.Data != "" {
		if err := task.UnmarshalData(); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return task, nil
}

func (svc *Service) ListTasks(ctx context.Context, opts ListTasksOptions) ([]*models.Task, error) {
	t, _, err := svc.listTasksWithTotal(ctx, opts)
	return t, errors.WithStack(err)
}

func (svc *Service) ListTasksWithTotal(ctx context.Context, opts ListTasksOptions) ([]*models.Task, int, error) {
	opts.includeTotal = true
	return svc.listTasksWithTotal(ctx, opts)
}

func (svc *Service) listTasksWithTotal(ctx context.Context, opts ListTasksOptions) ([]*models.Task, int, error) {
	tasks := []*models.Task{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&tasks).
		Order("t.created_at DESC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("t.status IN (?)", bun.In(opts.Statuses))
	}
	if len(opts.Types) > 0 {
		q = q.Where("t.type IN (?)", bun.In(opts.Types))
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, task := range tasks {
		if task.Data != "" {
			if err := task.UnmarshalData(); err != nil {
				return nil, 0, errors.WithStack(err)
			}
		}
	}

	return tasks, total, nil
}

func (svc *Service) UpdateTask(ctx context.Context, task *models.Task, opts UpdateTaskOptions) error {
	task.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(task).
		Column(columns...).
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

// ClaimTask stamps a pending task with this worker's process id. The update
// re-checks status and the empty claim so two workers can never both win.
// Returns false when someone else got there first.
func (svc *Service) ClaimTask(ctx context.Context, task *models.Task, processID string) (bool, error) {
	res, err := svc.db.
		NewUpdate().
		Model((*models.Task)(nil)).
		Set("process_id = ?", processID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", task.ID).
		Where("status = ?", models.TaskStatusPending).
		Where("process_id IS NULL").
		Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.WithStack(err)
	}
	if rows == 0 {
		return false, nil
	}

	task.ProcessID = &processID
	return true, nil
}

// HasActiveTaskByType reports whether a pending or running task of the type
// exists. The scheduler uses it to avoid stacking scans.
func (svc *Service) HasActiveTaskByType(ctx context.Context, taskType string) (bool, error) {
	exists, err := svc.db.
		NewSelect().
		Model((*models.Task)(nil)).
		Where("type = ?", taskType).
		Where("status IN (?)", bun.In([]string{models.TaskStatusPending, models.TaskStatusRunning})).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

// RequestCancel durably flags a non-terminal task for cancellation. The
// write lands before any in-memory signal so a crashed worker still sees the
// request on restart. Cancelling a pending task that no worker has claimed
// finalizes it immediately.
func (svc *Service) RequestCancel(ctx context.Context, taskID int) (*models.Task, error) {
	task, err := svc.RetrieveTask(ctx, RetrieveTaskOptions{ID: &taskID})
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		return nil, errcodes.Conflict("Task is already finished")
	}

	task.CancelRequested = true
	err = svc.UpdateTask(ctx, task, UpdateTaskOptions{Columns: []string{"cancel_requested"}})
	if err != nil {
		return nil, err
	}

	if task.Status == models.TaskStatusPending && task.ProcessID == nil {
		now := time.Now()
		task.Status = models.TaskStatusCancelled
		task.EndedAt = &now
		err = svc.UpdateTask(ctx, task, UpdateTaskOptions{Columns: []string{"status", "ended_at"}})
		if err != nil {
			return nil, err
		}
	}

	return task, nil
}
