package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/broker"
	"github.com/bibliograph/bibliograph/pkg/calibre"
	"github.com/bibliograph/bibliograph/pkg/config"
	"github.com/bibliograph/bibliograph/pkg/libraries"
	"github.com/bibliograph/bibliograph/pkg/matching"
	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/bibliograph/bibliograph/pkg/pipeline"
	"github.com/bibliograph/bibliograph/pkg/tasks"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

// Bus is the broker surface the fanout needs: message delivery plus the
// countdown gate. Both broker implementations satisfy it.
type Bus interface {
	broker.Broker
	broker.Countdown
}

type matchJob struct {
	RunID        string `json:"run_id"`
	LibraryID    int    `json:"library_id"`
	AuthorID     int    `json:"author_id"`
	AuthorName   string `json:"author_name"`
	ForceRematch bool   `json:"force_rematch,omitempty"`
}

type ingestJob struct {
	RunID      string  `json:"run_id"`
	LibraryID  int     `json:"library_id"`
	AuthorID   int     `json:"author_id"`
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

type scoreJob struct {
	RunID     string `json:"run_id"`
	LibraryID int    `json:"library_id"`
}

// Completion is published on the completion topic once a fanned-out run's
// score stage has finished.
type Completion struct {
	RunID     string `json:"run_id"`
	LibraryID int    `json:"library_id"`
	Success   bool   `json:"success"`
}

// Fanout spreads one library scan across broker workers: each catalog author
// becomes an independent match job, matched authors flow on to ingest jobs,
// and a countdown gate starting at the author count fires the score job when
// the last author finishes. Any worker subscribed to the bus can pick up any
// job, so a pool of workers shares the run.
type Fanout struct {
	db             *bun.DB
	bus            Bus
	libraryService *libraries.Service
	authorService  *authors.Service
	provider       metadata.Provider
	opts           pipeline.Options

	mu        sync.Mutex
	waiters   map[string]chan Completion
	unclaimed map[string]Completion
}

func NewFanout(db *bun.DB, bus Bus, libraryService *libraries.Service, authorService *authors.Service, provider metadata.Provider, cfg *config.Config) *Fanout {
	return &Fanout{
		db:             db,
		bus:            bus,
		libraryService: libraryService,
		authorService:  authorService,
		provider:       provider,
		opts:           pipelineOptions(cfg),

		waiters:   map[string]chan Completion{},
		unclaimed: map[string]Completion{},
	}
}

// Start registers the fanout's handlers on the bus. Call once per worker
// before dispatching.
func (f *Fanout) Start() {
	f.bus.Subscribe(broker.TopicMatchQueue, f.handleMatch)
	f.bus.Subscribe(broker.TopicIngestQueue, f.handleIngest)
	f.bus.Subscribe(broker.TopicScoreJobs, f.handleScore)
	f.bus.Subscribe(broker.TopicCompletionJobs, f.handleCompletion)
}

// Dispatch fans a crawled author list out as match jobs and returns the run
// id. With no authors the score job is published immediately.
func (f *Fanout) Dispatch(ctx context.Context, libraryID int, catalogAuthors []*calibre.Author, forceRematch bool) (string, error) {
	runID := uuid.New().String()

	if len(catalogAuthors) == 0 {
		return runID, f.publishScore(ctx, runID, libraryID)
	}

	err := f.bus.NewCountdown(ctx, countdownKey(runID), len(catalogAuthors))
	if err != nil {
		return "", errors.WithStack(err)
	}

	for _, author := range catalogAuthors {
		payload, err := json.Marshal(matchJob{
			RunID:        runID,
			LibraryID:    libraryID,
			AuthorID:     author.ID,
			AuthorName:   author.Name,
			ForceRematch: forceRematch,
		})
		if err != nil {
			return "", errors.WithStack(err)
		}
		if err := f.bus.Publish(ctx, broker.TopicMatchQueue, string(payload)); err != nil {
			return "", errors.WithStack(err)
		}
	}

	return runID, nil
}

// Wait blocks until the run's completion event arrives. The cancelled func
// is polled the way task handlers poll their durable cancel flag; a nil func
// never cancels.
func (f *Fanout) Wait(ctx context.Context, runID string, cancelled func() bool) (Completion, error) {
	f.mu.Lock()
	if completion, ok := f.unclaimed[runID]; ok {
		delete(f.unclaimed, runID)
		f.mu.Unlock()
		return completion, nil
	}
	ch := make(chan Completion, 1)
	f.waiters[runID] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.waiters, runID)
		f.mu.Unlock()
	}()

	ticker := time.NewTicker(cancelWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case completion := <-ch:
			return completion, nil
		case <-ctx.Done():
			return Completion{}, errors.WithStack(ctx.Err())
		case <-ticker.C:
			if cancelled != nil && cancelled() {
				return Completion{}, tasks.ErrTaskCancelled
			}
		}
	}
}

// handleMatch matches one catalog author. A successful match becomes an
// ingest job; an unmatched author is terminal for the countdown.
func (f *Fanout) handleMatch(ctx context.Context, payload string) error {
	job := matchJob{}
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return errors.WithStack(err)
	}

	opts := f.opts
	opts.ForceRematch = job.ForceRematch

	run, err := f.runContext(ctx, job.RunID, job.LibraryID, opts)
	if err != nil {
		return err
	}
	run.Authors = []*calibre.Author{{ID: job.AuthorID, Name: job.AuthorName}}

	matcher := matching.NewOrchestrator(f.provider, matching.DefaultStrategies(), opts.MinMatchConfidence)
	stage := pipeline.NewMatchStage(f.authorService, matcher)
	result := stage.Execute(ctx, run)
	if !result.Success {
		return errors.Errorf("match job for author %d: %s", job.AuthorID, result.Message)
	}

	matched, ok := run.MatchResults[job.AuthorID]
	if !ok {
		// Unmatched or the provider kept failing; this author is done.
		return f.finishItem(ctx, job.RunID, job.LibraryID)
	}

	next, err := json.Marshal(ingestJob{
		RunID:      job.RunID,
		LibraryID:  job.LibraryID,
		AuthorID:   job.AuthorID,
		Key:        matched.Candidate.Key,
		Name:       matched.Candidate.Name,
		Confidence: matched.Confidence,
		Method:     matched.Method,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.bus.Publish(ctx, broker.TopicIngestQueue, string(next)))
}

// handleIngest persists one matched author and links its mapping, then
// decrements the run's countdown.
func (f *Fanout) handleIngest(ctx context.Context, payload string) error {
	log := logger.FromContext(ctx)

	job := ingestJob{}
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return errors.WithStack(err)
	}

	run, err := f.runContext(ctx, job.RunID, job.LibraryID, f.opts)
	if err != nil {
		return err
	}
	run.MatchResults[job.AuthorID] = &matching.Result{
		Candidate:  &metadata.AuthorSummary{Key: job.Key, Name: job.Name},
		Confidence: job.Confidence,
		Method:     job.Method,
	}

	ingest := pipeline.NewIngestStage(f.authorService, f.provider).Execute(ctx, run)
	if !ingest.Success {
		log.Warn("fanout ingest failed", logger.Data{
			"run_id":    job.RunID,
			"author_id": job.AuthorID,
			"message":   ingest.Message,
		})
	} else {
		link := pipeline.NewLinkStage(f.authorService).Execute(ctx, run)
		if !link.Success {
			log.Warn("fanout link failed", logger.Data{
				"run_id":    job.RunID,
				"author_id": job.AuthorID,
				"message":   link.Message,
			})
		}
	}

	return f.finishItem(ctx, job.RunID, job.LibraryID)
}

// handleScore runs deduplication and similarity scoring once every author's
// fan-out item has finished, then announces completion.
func (f *Fanout) handleScore(ctx context.Context, payload string) error {
	job := scoreJob{}
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return errors.WithStack(err)
	}

	run, err := f.runContext(ctx, job.RunID, job.LibraryID, f.opts)
	if err != nil {
		return err
	}

	executor := pipeline.NewExecutor(
		pipeline.NewDeduplicateStage(),
		pipeline.NewScoreStage(f.authorService),
	)
	summary := executor.Execute(ctx, run)

	done, err := json.Marshal(Completion{
		RunID:     job.RunID,
		LibraryID: job.LibraryID,
		Success:   summary.Success,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.bus.Publish(ctx, broker.TopicCompletionJobs, string(done)))
}

// handleCompletion routes a run's completion event to its waiter. A
// completion with no waiter yet is parked so a Wait that starts late still
// sees it.
func (f *Fanout) handleCompletion(_ context.Context, payload string) error {
	completion := Completion{}
	if err := json.Unmarshal([]byte(payload), &completion); err != nil {
		return errors.WithStack(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.waiters[completion.RunID]; ok {
		ch <- completion
		delete(f.waiters, completion.RunID)
		return nil
	}
	f.unclaimed[completion.RunID] = completion
	return nil
}

// finishItem decrements the run countdown; the caller that lands on zero
// publishes the score job.
func (f *Fanout) finishItem(ctx context.Context, runID string, libraryID int) error {
	zero, err := f.bus.Decrement(ctx, countdownKey(runID))
	if err != nil {
		return errors.WithStack(err)
	}
	if !zero {
		return nil
	}
	return f.publishScore(ctx, runID, libraryID)
}

func (f *Fanout) publishScore(ctx context.Context, runID string, libraryID int) error {
	payload, err := json.Marshal(scoreJob{RunID: runID, LibraryID: libraryID})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.bus.Publish(ctx, broker.TopicScoreJobs, string(payload)))
}

func (f *Fanout) runContext(ctx context.Context, runID string, libraryID int, opts pipeline.Options) (*pipeline.Context, error) {
	library, err := f.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{
		ID: pointerutil.Int(libraryID),
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return pipeline.NewContext(library, runID, f.db, opts, nil, nil), nil
}

func countdownKey(runID string) string {
	return fmt.Sprintf("scan:%s", runID)
}
