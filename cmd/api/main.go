package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/broker"
	"github.com/bibliograph/bibliograph/pkg/config"
	"github.com/bibliograph/bibliograph/pkg/database"
	"github.com/bibliograph/bibliograph/pkg/libraries"
	"github.com/bibliograph/bibliograph/pkg/metadata/openlibrary"
	"github.com/bibliograph/bibliograph/pkg/migrations"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/bibliograph/bibliograph/pkg/scan"
	"github.com/bibliograph/bibliograph/pkg/server"
	"github.com/bibliograph/bibliograph/pkg/tasks"
	"github.com/bibliograph/bibliograph/pkg/users"
	"github.com/bibliograph/bibliograph/pkg/version"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting bibliograph", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	provider := openlibrary.New(
		openlibrary.WithBaseURL(cfg.ProviderBaseURL),
		openlibrary.WithTimeout(cfg.ProviderTimeout),
		openlibrary.WithRetryAttempts(cfg.ProviderRetryAttempts),
	)

	taskService := tasks.NewService(db)
	registry := tasks.NewRegistry()

	orchestrator := scan.NewOrchestrator(db, cfg, libraries.NewService(db), authors.NewService(db), provider)
	orchestrator.RegisterHandlers(registry)

	var runner tasks.Runner
	switch cfg.TaskRunnerBackend {
	case "pool":
		brk := broker.NewSQLiteBroker(db, broker.SQLiteBrokerOptions{
			PollInterval: cfg.TaskPollInterval,
			MaxAttempts:  cfg.TaskMaxAttempts,
			Workers:      cfg.WorkerProcesses,
		})
		fanout := scan.NewFanout(db, brk, libraries.NewService(db), authors.NewService(db), provider, cfg)
		fanout.Start()
		orchestrator.UseFanout(fanout)
		runner = tasks.NewPoolRunner(db, taskService, registry, brk, tasks.PoolRunnerOptions{
			PollInterval: cfg.TaskPollInterval,
			TaskTimeout:  cfg.TaskTimeout,
		})
	default:
		runner = tasks.NewQueueRunner(db, taskService, registry, cfg.TaskPollInterval)
	}

	configService := config.NewService(cfg)
	scheduler := tasks.NewScheduler(configService, taskService, users.NewService(db), runner, []tasks.PeriodicTask{
		{
			Type: models.TaskTypeScan,
			Data: func(userConfig *config.UserConfig) interface{} {
				// Zero library id scans every library.
				return &models.TaskScanData{
					ForceRematch: userConfig.ForceRematch,
				}
			},
		},
	})

	srv, err := server.New(cfg, db, runner)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		port := listener.Addr().(*net.TCPAddr).Port
		log.Info("server started", logger.Data{"port": port})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	runner.Start(ctx)
	log.Info("task runner started", logger.Data{"backend": cfg.TaskRunnerBackend})

	scheduler.Start()
	log.Info("scheduler started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	scheduler.Stop()
	log.Info("scheduler shutdown")

	runner.Stop()
	log.Info("task runner shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}
