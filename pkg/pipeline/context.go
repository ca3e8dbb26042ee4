package pipeline

import (
	"sync"

	"github.com/bibliograph/bibliograph/pkg/calibre"
	"github.com/bibliograph/bibliograph/pkg/matching"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// ErrCancelled is returned by stages that observe a tripped cancel token.
var ErrCancelled = errors.New("pipeline cancelled")

// ProgressFunc receives overall pipeline progress in [0,1] plus free-form
// metadata about what is currently happening.
type ProgressFunc func(progress float64, metadata map[string]interface{})

// Options are the per-run knobs, copied out of config and task data when the
// run is set up.
type Options struct {
	AuthorLimit         int
	ForceRematch        bool
	MinMatchConfidence  float64
	MaxWorksPerAuthor   int
	MaxSubjectsPerWork  int
	SimilarityThreshold float64
	MinSimilarityScore  float64
	Staleness           matching.StalenessWindows
	TargetAuthorID      int // single-author scoring mode when > 0
}

// Context is the shared state of one pipeline run. Stages read what earlier
// stages produced and append their own results. It is not safe for
// concurrent stage execution; the executor runs stages strictly in order.
type Context struct {
	Library *models.Library
	RunID   string
	DB      bun.IDB
	Options Options
	Cancel  *CancelToken

	// Crawl output.
	Authors []*calibre.Author
	Books   []*calibre.Book
	Links   []*calibre.BookAuthorLink

	// Match output, keyed by calibre author id.
	MatchResults map[int]*matching.Result
	Unmatched    []*calibre.Author

	// Ingest output: provider key -> persisted author id.
	IngestedAuthors map[string]int

	progressMu   sync.Mutex
	progressFunc ProgressFunc
	lastProgress float64
	stageOffset  float64
	stageWidth   float64
}

func NewContext(library *models.Library, runID string, db bun.IDB, opts Options, cancel *CancelToken, progress ProgressFunc) *Context {
	if cancel == nil {
		cancel = NewCancelToken()
	}
	return &Context{
		Library:         library,
		RunID:           runID,
		DB:              db,
		Options:         opts,
		Cancel:          cancel,
		MatchResults:    map[int]*matching.Result{},
		IngestedAuthors: map[string]int{},
		progressFunc:    progress,
		stageWidth:      1,
	}
}

// withStageWindow narrows subsequent progress reports into the slice of the
// overall run belonging to one stage: a stage reporting local progress p
// surfaces as offset + p*width. Stages run sequentially, so mutating the
// window in place is safe.
func (c *Context) withStageWindow(offset, width float64) *Context {
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.stageOffset = offset
	c.stageWidth = width
	return c
}

// CheckCancelled returns ErrCancelled once the cancel token has tripped.
// Stages call this per record so cancellation lands quickly.
func (c *Context) CheckCancelled() error {
	if c.Cancel.Cancelled() {
		return errors.WithStack(ErrCancelled)
	}
	return nil
}

// ReportProgress forwards progress to the run's progress func. Values are
// clamped to [0,1] and never move backwards within the run.
func (c *Context) ReportProgress(progress float64, metadata map[string]interface{}) {
	c.progressMu.Lock()
	defer c.progressMu.Unlock()

	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	scaled := c.stageOffset + progress*c.stageWidth
	if scaled > 1 {
		scaled = 1
	}
	if scaled < c.lastProgress {
		scaled = c.lastProgress
	}
	c.lastProgress = scaled

	if c.progressFunc != nil {
		c.progressFunc(scaled, metadata)
	}
}
