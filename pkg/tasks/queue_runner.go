package tasks

import (
	"context"
	"time"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/uptrace/bun"
)

// QueueRunner executes tasks strictly sequentially in this process: a fetch
// goroutine polls for pending work and feeds a FIFO channel consumed by a
// single worker goroutine.
type QueueRunner struct {
	runnerCore

	db           *bun.DB
	executor     *Executor
	log          logger.Logger
	processID    string
	pollInterval time.Duration

	queue          chan *models.Task
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneProcessing chan struct{}
}

func NewQueueRunner(db *bun.DB, service *Service, registry *Registry, pollInterval time.Duration) *QueueRunner {
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}
	return &QueueRunner{
		runnerCore:   runnerCore{service: service},
		db:           db,
		executor:     NewExecutor(db, service, registry),
		log:          logger.New(),
		processID:    randProcessID(8),
		pollInterval: pollInterval,

		queue:          make(chan *models.Task, 1),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneProcessing: make(chan struct{}),
	}
}

func (r *QueueRunner) Start(_ context.Context) {
	go r.fetchTasks()
	go r.processTasks()
}

func (r *QueueRunner) Stop() {
	close(r.shutdown)
	<-r.doneFetching
	<-r.doneProcessing
}

func (r *QueueRunner) fetchTasks() {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.shutdown:
			r.doneFetching <- struct{}{}
			return
		case <-timer.C:
			tasks, err := r.service.ListTasks(context.Background(), ListTasksOptions{
				Limit:    pointerutil.Int(1),
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
				r.queue <- task
			}
			timer.Reset(r.pollInterval)
		}
	}
}

func (r *QueueRunner) processTasks() {
	for {
		select {
		case <-r.shutdown:
			r.doneProcessing <- struct{}{}
			return
		case task := <-r.queue:
			id, err := uuid.NewRandom()
			if err != nil {
				r.log.Err(err).Error("new uuid error")
				continue
			}
			log := r.log.ID(id.String()).Root(logger.Data{
				"task_id":    task.ID,
				"type":       task.Type,
				"process_id": r.processID,
			})
			ctx := log.WithContext(context.Background())

			r.executor.Execute(ctx, task)
		}
	}
}
