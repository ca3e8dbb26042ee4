package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/bibliograph/bibliograph/pkg/config"
	"github.com/bibliograph/bibliograph/pkg/errcodes"
	"github.com/bibliograph/bibliograph/pkg/users"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// minTriggerGap keeps a periodic task from firing twice when the trigger
// window is crossed on consecutive days with slightly drifted ticks. Just
// under a day so a trigger at 02:03 still allows tomorrow's at 02:01.
const minTriggerGap = 23 * time.Hour

// PeriodicTask describes one task type the scheduler triggers daily. Data is
// built at trigger time so it reflects current configuration.
type PeriodicTask struct {
	Type string
	Data func(userConfig *config.UserConfig) interface{}
}

// Scheduler triggers periodic tasks once a day inside the configured window.
// It reloads user config every tick, so changes to the schedule apply
// without a restart.
type Scheduler struct {
	configService *config.Service
	taskService   *Service
	userService   *users.Service
	runner        Runner
	periodic      []PeriodicTask
	log           logger.Logger

	mu       sync.Mutex
	lastRun  map[string]time.Time
	shutdown chan struct{}
	done     chan struct{}
}

func NewScheduler(configService *config.Service, taskService *Service, userService *users.Service, runner Runner, periodic []PeriodicTask) *Scheduler {
	return &Scheduler{
		configService: configService,
		taskService:   taskService,
		userService:   userService,
		runner:        runner,
		periodic:      periodic,
		log:           logger.New(),

		lastRun:  map[string]time.Time{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) Stop() {
	close(s.shutdown)
	<-s.done
}

func (s *Scheduler) loop() {
	// A short fixed tick; the per-type daily window decides whether a tick
	// actually triggers anything.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			s.done <- struct{}{}
			return
		case <-ticker.C:
			s.tick(context.Background(), time.Now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	userConfig, err := s.configService.RetrieveUserConfig()
	if err != nil {
		s.log.Err(err).Error("loading user config")
		return
	}
	if userConfig.SyncIntervalMinutes <= 0 {
		return
	}

	for _, periodic := range s.periodic {
		if !s.shouldTrigger(periodic.Type, userConfig, now) {
			continue
		}
		s.trigger(ctx, periodic, userConfig, now)
	}
}

// shouldTrigger applies the daily window: right hour, early enough in it,
// and not already run in the last ~23 hours.
func (s *Scheduler) shouldTrigger(taskType string, userConfig *config.UserConfig, now time.Time) bool {
	if now.Hour() != userConfig.ScanStartHour {
		return false
	}
	if now.Minute() >= userConfig.ScanWindowMinutes {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[taskType]
	return !ok || now.Sub(last) >= minTriggerGap
}

func (s *Scheduler) trigger(ctx context.Context, periodic PeriodicTask, userConfig *config.UserConfig, now time.Time) {
	active, err := s.taskService.HasActiveTaskByType(ctx, periodic.Type)
	if err != nil {
		s.log.Err(err).Error("checking active tasks")
		return
	}
	if active {
		s.log.Info("skipping periodic task, one is already active", logger.Data{
			"type": periodic.Type,
		})
		return
	}

	user, err := s.userService.RetrieveSystemUser(ctx)
	if err != nil {
		if errors.Is(err, errcodes.NotFound("User")) {
			s.log.Warn("skipping periodic task, no user to attribute it to", logger.Data{
				"type": periodic.Type,
			})
			return
		}
		s.log.Err(err).Error("loading system user")
		return
	}

	var data interface{}
	if periodic.Data != nil {
		data = periodic.Data(userConfig)
	}

	taskID, err := s.runner.Enqueue(ctx, periodic.Type, data, &user.ID)
	if err != nil {
		s.log.Err(err).Error("enqueueing periodic task")
		return
	}

	s.mu.Lock()
	s.lastRun[periodic.Type] = now
	s.mu.Unlock()

	s.log.Info("periodic task triggered", logger.Data{
		"type":    periodic.Type,
		"task_id": taskID,
		"user_id": user.ID,
	})
}
