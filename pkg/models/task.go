package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

const (
	TaskTypeScan    = "scan"
	TaskTypeRescore = "rescore"
)

// TaskErrorMaxLen caps the persisted failure message.
const TaskErrorMaxLen = 2000

// Task is a persisted background job. Pending tasks are claimed by a worker
// (process_id), run to a terminal status, and never transition afterwards.
type Task struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID              int         `bun:",pk,nullzero" json:"id"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Type            string      `bun:",nullzero" json:"type"`
	Status          string      `bun:",nullzero" json:"status"`
	Progress        float64     `json:"progress"`
	Data            string      `bun:",nullzero" json:"-"`
	DataParsed      interface{} `bun:"-" json:"data"`
	UserID          *int        `json:"user_id,omitempty"`
	ProcessID       *string     `json:"process_id,omitempty"`
	CancelRequested bool        `json:"cancel_requested"`
	Error           *string     `json:"error,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	EndedAt         *time.Time  `json:"ended_at,omitempty"`
}

// IsTerminal reports whether the task reached a final status.
func (task *Task) IsTerminal() bool {
	switch task.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

func (task *Task) UnmarshalData() error {
	switch task.Type {
	case TaskTypeScan:
		task.DataParsed = &TaskScanData{}
	case TaskTypeRescore:
		task.DataParsed = &TaskRescoreData{}
	default:
		task.DataParsed = &map[string]interface{}{}
	}

	err := json.Unmarshal([]byte(task.Data), task.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

type TaskScanData struct {
	LibraryID    int  `json:"library_id"`
	AuthorLimit  int  `json:"author_limit,omitempty"`
	ForceRematch bool `json:"force_rematch,omitempty"`
}

type TaskRescoreData struct {
	LibraryID int `json:"library_id"`
	AuthorID  int `json:"author_id"`
}

// TaskStat tracks running duration statistics per task type. The average is
// maintained as a running mean: avg' = (avg*(n-1) + d) / n.
type TaskStat struct {
	bun.BaseModel `bun:"table:task_stats,alias:ts"`

	ID            int       `bun:",pk,nullzero" json:"id"`
	TaskType      string    `bun:",nullzero" json:"task_type"`
	Runs          int       `json:"runs"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	MinDurationMs float64   `json:"min_duration_ms"`
	MaxDurationMs float64   `json:"max_duration_ms"`
	UpdatedAt     time.Time `json:"updated_at"`
}
