package tasks

import (
	"context"
	"strconv"
	"time"

	"github.com/bibliograph/bibliograph/pkg/broker"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/uptrace/bun"
)

// TopicTaskJobs carries task ids from the dispatcher to pool workers.
const TopicTaskJobs = "task_jobs"

// PoolRunner distributes task execution over broker workers: a dispatcher
// claims pending tasks and publishes their ids; any subscribed worker picks
// them up. Parallel across workers, single-threaded per task. The broker's
// attempt limit bounds redelivery of tasks whose worker died mid-run.
type PoolRunner struct {
	runnerCore

	db           *bun.DB
	executor     *Executor
	brk          *broker.SQLiteBroker
	log          logger.Logger
	processID    string
	pollInterval time.Duration
	taskTimeout  time.Duration

	shutdown     chan struct{}
	doneDispatch chan struct{}
}

type PoolRunnerOptions struct {
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

func NewPoolRunner(db *bun.DB, service *Service, registry *Registry, brk *broker.SQLiteBroker, opts PoolRunnerOptions) *PoolRunner {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.TaskTimeout == 0 {
		opts.TaskTimeout = time.Hour
	}
	return &PoolRunner{
		runnerCore:   runnerCore{service: service},
		db:           db,
		executor:     NewExecutor(db, service, registry),
		brk:          brk,
		log:          logger.New(),
		processID:    randProcessID(8),
		pollInterval: opts.PollInterval,
		taskTimeout:  opts.TaskTimeout,

		shutdown:     make(chan struct{}),
		doneDispatch: make(chan struct{}),
	}
}

func (r *PoolRunner) Start(ctx context.Context) {
	r.brk.Subscribe(TopicTaskJobs, r.handleTask)
	r.brk.Start(ctx)
	go r.dispatch()
}

func (r *PoolRunner) Stop() {
	close(r.shutdown)
	<-r.doneDispatch
	r.brk.Stop()
}

// dispatch moves pending tasks onto the broker. Claiming before publishing
// keeps a second dispatcher (another process) from double-publishing.
func (r *PoolRunner) dispatch() {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.shutdown:
			r.doneDispatch <- struct{}{}
			return
		case <-timer.C:
			tasks, err := r.service.ListTasks(context.Background(), ListTasksOptions{
				Limit:    pointerutil.Int(10),
				Statuses: []string{models.TaskStatusPending},
			})
			if err != nil {
				r.log.Err(err).Error("list tasks error")
				timer.Reset(r.pollInterval)
				continue
			}

			for _, task := range tasks {
				claimed, err := r.service.ClaimTask(context.Background(), task, r.processID)
				if err != nil {
					r.log.Err(err).Error("claim task error")
					continue
				}
				if !claimed {
					continue
				}
				err = r.brk.Publish(context.Background(), TopicTaskJobs, strconv.Itoa(task.ID))
				if err != nil {
					r.log.Err(err).Error("publish task error")
				}
			}
			timer.Reset(r.pollInterval)
		}
	}
}

func (r *PoolRunner) handleTask(ctx context.Context, payload string) error {
	taskID, err := strconv.Atoi(payload)
	if err != nil {
		return errors.Wrap(err, "parsing task id")
	}

	task, err := r.service.RetrieveTask(ctx, RetrieveTaskOptions{ID: &taskID})
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		// Redelivered after a completed run; acknowledge and move on.
		return nil
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return errors.WithStack(err)
	}
	log := r.log.ID(id.String()).Root(logger.Data{
		"task_id":    task.ID,
		"type":       task.Type,
		"process_id": r.processID,
	})

	runCtx, cancel := context.WithTimeout(log.WithContext(context.Background()), r.taskTimeout)
	defer cancel()

	r.executor.Execute(runCtx, task)
	return nil
}
