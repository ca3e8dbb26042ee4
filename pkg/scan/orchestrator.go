package scan

import (
	"context"
	"strings"
	"time"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/calibre"
	"github.com/bibliograph/bibliograph/pkg/config"
	"github.com/bibliograph/bibliograph/pkg/libraries"
	"github.com/bibliograph/bibliograph/pkg/matching"
	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/bibliograph/bibliograph/pkg/pipeline"
	"github.com/bibliograph/bibliograph/pkg/tasks"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/uptrace/bun"
)

const cancelWatchInterval = 250 * time.Millisecond

// Orchestrator turns scan and rescore tasks into pipeline runs: it resolves
// the library, assembles the stage list, bridges task cancellation onto the
// run's cancel token, and commits the run's writes as one transaction. With
// a fanout attached, scans are spread over broker workers instead.
type Orchestrator struct {
	db             *bun.DB
	cfg            *config.Config
	libraryService *libraries.Service
	authorService  *authors.Service
	provider       metadata.Provider
	fanout         *Fanout
}

func NewOrchestrator(db *bun.DB, cfg *config.Config, libraryService *libraries.Service, authorService *authors.Service, provider metadata.Provider) *Orchestrator {
	return &Orchestrator{
		db:             db,
		cfg:            cfg,
		libraryService: libraryService,
		authorService:  authorService,
		provider:       provider,
	}
}

// UseFanout routes scan tasks through the broker fanout instead of running
// the whole pipeline in-process. The pool backend wires this.
func (o *Orchestrator) UseFanout(fanout *Fanout) {
	o.fanout = fanout
}

// RegisterHandlers binds the orchestrator's task types into the registry the
// runner executes from.
func (o *Orchestrator) RegisterHandlers(registry *tasks.Registry) {
	registry.Register(models.TaskTypeScan, o.HandleScan)
	registry.Register(models.TaskTypeRescore, o.HandleRescore)
}

// HandleScan runs the full pipeline (crawl through score) for the library
// named by the task's data. A zero library id means every library, which is
// what the scheduler enqueues.
func (o *Orchestrator) HandleScan(ctx context.Context, task *models.Task, report tasks.ProgressReporter, cancelled func() bool) error {
	data, err := scanData(task)
	if err != nil {
		return err
	}

	var libs []*models.Library
	if data.LibraryID != 0 {
		library, err := o.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{
			ID: pointerutil.Int(data.LibraryID),
		})
		if err != nil {
			return errors.WithStack(err)
		}
		libs = []*models.Library{library}
	} else {
		libs, err = o.libraryService.ListLibraries(ctx, libraries.ListLibrariesOptions{})
		if err != nil {
			return errors.WithStack(err)
		}
		if len(libs) == 0 {
			logger.FromContext(ctx).Info("no libraries to scan")
			return nil
		}
	}

	opts := o.pipelineOptions()
	opts.ForceRematch = data.ForceRematch
	if data.AuthorLimit > 0 {
		opts.AuthorLimit = data.AuthorLimit
	}

	matcher := matching.NewOrchestrator(o.provider, matching.DefaultStrategies(), opts.MinMatchConfidence)
	executor := pipeline.NewExecutor(
		pipeline.NewCrawlStage(),
		pipeline.NewMatchStage(o.authorService, matcher),
		pipeline.NewIngestStage(o.authorService, o.provider),
		pipeline.NewLinkStage(o.authorService),
		pipeline.NewDeduplicateStage(),
		pipeline.NewScoreStage(o.authorService),
	)

	for i, library := range libs {
		offset := float64(i)
		scaled := func(p float64) {
			report((offset + p) / float64(len(libs)))
		}

		var err error
		if o.fanout != nil {
			err = o.scanLibraryFanout(ctx, library, data, opts, scaled, cancelled)
		} else {
			err = o.run(ctx, library, opts, executor, scaled, cancelled)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// scanLibraryFanout crawls the catalog in the task worker, then hands the
// authors to the broker fanout and waits for the run's completion event.
func (o *Orchestrator) scanLibraryFanout(ctx context.Context, library *models.Library, data *models.TaskScanData, opts pipeline.Options, report tasks.ProgressReporter, cancelled func() bool) error {
	log := logger.FromContext(ctx)

	reader, err := calibre.Open(library.CatalogPath)
	if err != nil {
		return errors.Wrap(err, "opening catalog")
	}
	catalogAuthors, err := reader.ListAuthors(ctx)
	reader.Close()
	if err != nil {
		return errors.Wrap(err, "listing authors")
	}
	if limit := opts.AuthorLimit; limit > 0 && len(catalogAuthors) > limit {
		catalogAuthors = catalogAuthors[:limit]
	}
	report(0.1)

	runID, err := o.fanout.Dispatch(ctx, library.ID, catalogAuthors, data.ForceRematch)
	if err != nil {
		return errors.WithStack(err)
	}
	report(0.2)

	completion, err := o.fanout.Wait(ctx, runID, cancelled)
	if err != nil {
		return err
	}

	log.Info("fanned-out scan finished", logger.Data{
		"run_id":     runID,
		"library_id": library.ID,
		"authors":    len(catalogAuthors),
		"success":    completion.Success,
	})

	if !completion.Success {
		return errors.Errorf("scan run %s finished with failures", runID)
	}
	report(1)
	return nil
}

// HandleRescore reruns only the score stage, recomputing similarity edges for
// one author against the rest of the library.
func (o *Orchestrator) HandleRescore(ctx context.Context, task *models.Task, report tasks.ProgressReporter, cancelled func() bool) error {
	data, err := rescoreData(task)
	if err != nil {
		return err
	}

	library, err := o.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{
		ID: pointerutil.Int(data.LibraryID),
	})
	if err != nil {
		return errors.WithStack(err)
	}

	opts := o.pipelineOptions()
	opts.TargetAuthorID = data.AuthorID

	executor := pipeline.NewExecutor(pipeline.NewScoreStage(o.authorService))

	return o.run(ctx, library, opts, executor, report, cancelled)
}

// run executes the assembled pipeline inside one database transaction. The
// transaction always commits: individual stage failures are best-effort and
// must not roll back the stages that did succeed.
func (o *Orchestrator) run(ctx context.Context, library *models.Library, opts pipeline.Options, executor *pipeline.Executor, report tasks.ProgressReporter, cancelled func() bool) error {
	log := logger.FromContext(ctx)
	runID := uuid.New().String()

	token := pipeline.NewCancelToken()
	stopWatching := watchCancellation(token, cancelled)
	defer stopWatching()

	progress := func(p float64, _ map[string]interface{}) {
		report(p)
	}

	var summary pipeline.Summary
	err := o.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		run := pipeline.NewContext(library, runID, tx, opts, token, progress)
		summary = executor.Execute(ctx, run)
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	log.Info("pipeline run finished", logger.Data{
		"run_id":           runID,
		"library_id":       library.ID,
		"success":          summary.Success,
		"cancelled":        summary.Cancelled,
		"completed_stages": summary.CompletedStages,
		"total_stages":     summary.TotalStages,
		"duration_ms":      summary.Duration.Milliseconds(),
	})

	if summary.Cancelled {
		return tasks.ErrTaskCancelled
	}
	if !summary.Success {
		return errors.Errorf("stages failed: %s", strings.Join(failedStages(summary), ", "))
	}
	return nil
}

func (o *Orchestrator) pipelineOptions() pipeline.Options {
	return pipelineOptions(o.cfg)
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		AuthorLimit:         cfg.AuthorScanLimit,
		MinMatchConfidence:  cfg.MinMatchConfidence,
		MaxWorksPerAuthor:   cfg.MaxWorksPerAuthor,
		MaxSubjectsPerWork:  cfg.MaxSubjectsPerWork,
		SimilarityThreshold: cfg.DuplicateSimilarityThreshold,
		MinSimilarityScore:  cfg.MinSimilarityScore,
		Staleness: matching.StalenessWindows{
			MaxAgeDays:          cfg.StaleDataMaxAgeDays,
			RefreshIntervalDays: cfg.RefreshIntervalDays,
		},
	}
}

// watchCancellation polls the task's durable cancel flag and trips the run's
// cancel token when it is set. The returned func stops the watcher.
func watchCancellation(token *pipeline.CancelToken, cancelled func() bool) func() {
	shutdown := make(chan bool)
	done := make(chan bool)

	go func() {
		defer close(done)
		ticker := time.NewTicker(cancelWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				if cancelled() {
					token.Cancel()
					return
				}
			}
		}
	}()

	return func() {
		close(shutdown)
		<-done
	}
}

func failedStages(summary pipeline.Summary) []string {
	names := []string{}
	for _, outcome := range summary.Results {
		if !outcome.Result.Success {
			names = append(names, outcome.Stage)
		}
	}
	return names
}

func scanData(task *models.Task) (*models.TaskScanData, error) {
	if data, ok := task.DataParsed.(*models.TaskScanData); ok {
		return data, nil
	}
	if err := task.UnmarshalData(); err != nil {
		return nil, err
	}
	data, ok := task.DataParsed.(*models.TaskScanData)
	if !ok {
		return nil, errors.New("scan task is missing scan data")
	}
	return data, nil
}

func rescoreData(task *models.Task) (*models.TaskRescoreData, error) {
	if data, ok := task.DataParsed.(*models.TaskRescoreData); ok {
		return data, nil
	}
	if err := task.UnmarshalData(); err != nil {
		return nil, err
	}
	data, ok := task.DataParsed.(*models.TaskRescoreData)
	if !ok {
		return nil, errors.New("rescore task is missing rescore data")
	}
	return data, nil
}
