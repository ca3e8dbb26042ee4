package tasks

import (
	"context"
	"math/rand"

	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
)

// Runner executes persisted tasks. Both backends expose identical semantics;
// which one a deployment uses is a config knob, not an API difference.
type Runner interface {
	// Enqueue persists a new pending task and returns its id.
	Enqueue(ctx context.Context, taskType string, data interface{}, userID *int) (int, error)
	// Cancel requests cancellation; the bool reports whether the task was
	// still cancellable.
	Cancel(ctx context.Context, taskID int) (bool, error)
	GetStatus(ctx context.Context, taskID int) (string, error)
	GetProgress(ctx context.Context, taskID int) (float64, error)

	Start(ctx context.Context)
	Stop()
}

// runnerCore is the service-backed plumbing shared by both runners.
type runnerCore struct {
	service *Service
}

func (c *runnerCore) Enqueue(ctx context.Context, taskType string, data interface{}, userID *int) (int, error) {
	task := &models.Task{
		Type:       taskType,
		Status:     models.TaskStatusPending,
		DataParsed: data,
		UserID:     userID,
	}
	if err := c.service.CreateTask(ctx, task); err != nil {
		return 0, err
	}
	return task.ID, nil
}

func (c *runnerCore) Cancel(ctx context.Context, taskID int) (bool, error) {
	_, err := c.service.RequestCancel(ctx, taskID)
	if err != nil {
		if errors.Is(err, errcodes.Conflict("Task is already finished")) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *runnerCore) GetStatus(ctx context.Context, taskID int) (string, error) {
	task, err := c.service.RetrieveTask(ctx, RetrieveTaskOptions{ID: &taskID})
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

func (c *runnerCore) GetProgress(ctx context.Context, taskID int) (float64, error) {
	task, err := c.service.RetrieveTask(ctx, RetrieveTaskOptions{ID: &taskID})
	if err != nil {
		return 0, err
	}
	return task.Progress, nil
}

const processIDBytes = "abcdefghijklmnopqrstuvwxyz0123456789"

func randProcessID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = processIDBytes[rand.Intn(len(processIDBytes))]
	}
	return string(b)
}
