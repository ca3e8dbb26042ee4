package pipeline

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/bibliograph/bibliograph/pkg/authors"
	"github.com/bibliograph/bibliograph/pkg/calibre"
	"github.com/bibliograph/bibliograph/pkg/matching"
	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/bibliograph/bibliograph/pkg/migrations"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func createTestLibrary(t *testing.T, db *bun.DB) *models.Library {
	t.Helper()

	library := &models.Library{
		Name:        "Main",
		CatalogPath: "/books/metadata.db",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, err := db.NewInsert().Model(library).Exec(context.Background())
	require.NoError(t, err)
	return library
}

// countingProvider records provider traffic so tests can assert which calls
// were skipped.
type countingProvider struct {
	searchResults map[string][]*metadata.AuthorSummary
	details       map[string]*metadata.AuthorDetail
	works         map[string][]*metadata.Work

	searchCalls int
	detailCalls int
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) SearchAuthors(_ context.Context, query string, _ int) ([]*metadata.AuthorSummary, error) {
	p.searchCalls++
	return p.searchResults[query], nil
}

func (p *countingProvider) GetAuthor(_ context.Context, key string) (*metadata.AuthorDetail, error) {
	p.detailCalls++
	detail, ok := p.details[key]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return detail, nil
}

func (p *countingProvider) GetAuthorWorks(_ context.Context, key string, _ int) ([]*metadata.Work, error) {
	return p.works[key], nil
}

func (p *countingProvider) SearchBooks(context.Context, string, string, int) ([]*metadata.BookSummary, error) {
	return nil, metadata.ErrNotFound
}

func (p *countingProvider) GetBook(context.Context, string) (*metadata.BookDetail, error) {
	return nil, metadata.ErrNotFound
}

func newRunContext(db *bun.DB, library *models.Library, opts Options) *Context {
	return NewContext(library, "run-test", db, opts, NewCancelToken(), nil)
}

func TestMatchStage(t *testing.T) {
	ctx := context.Background()

	t.Run("matches crawled authors through the provider", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		provider := &countingProvider{
			searchResults: map[string][]*metadata.AuthorSummary{
				"Fyodor Dostoevsky": {{Key: "OL22242A", Name: "Fyodor Dostoevsky"}},
			},
		}

		run := newRunContext(db, library, Options{MinMatchConfidence: 0.75})
		run.Authors = []*calibre.Author{{ID: 7, Name: "Fyodor Dostoevsky"}}

		service := authors.NewService(db)
		stage := NewMatchStage(service, matching.NewOrchestrator(provider, matching.DefaultStrategies(), 0.75))
		result := stage.Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["matched"])
		require.Contains(t, run.MatchResults, 7)
		assert.Equal(t, "OL22242A", run.MatchResults[7].Candidate.Key)
	})

	t.Run("fresh mappings are reused without a provider call", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)

		synced := time.Now().Add(-24 * time.Hour)
		author := &models.AuthorMetadata{
			Name:           "Fyodor Dostoevsky",
			OpenLibraryKey: pointerutil.String("OL22242A"),
			LastSyncedAt:   &synced,
		}
		require.NoError(t, service.CreateAuthor(ctx, author))
		require.NoError(t, service.UpsertMapping(ctx, &models.AuthorMapping{
			LibraryID:       library.ID,
			CalibreAuthorID: 7,
			AuthorID:        author.ID,
			MatchMethod:     "exact_name",
			Confidence:      0.98,
		}))

		provider := &countingProvider{}
		run := newRunContext(db, library, Options{
			MinMatchConfidence: 0.75,
			Staleness: matching.StalenessWindows{
				MaxAgeDays: pointerutil.Float64(30),
			},
		})
		run.Authors = []*calibre.Author{{ID: 7, Name: "Fyodor Dostoevsky"}}

		stage := NewMatchStage(service, matching.NewOrchestrator(provider, matching.DefaultStrategies(), 0.75))
		result := stage.Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["skipped"])
		assert.Zero(t, provider.searchCalls)
		require.Contains(t, run.MatchResults, 7)
		assert.Equal(t, "OL22242A", run.MatchResults[7].Candidate.Key)
		assert.Equal(t, 0.98, run.MatchResults[7].Confidence)
	})

	t.Run("force rematch goes back to the provider", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)

		synced := time.Now().Add(-24 * time.Hour)
		author := &models.AuthorMetadata{
			Name:           "Fyodor Dostoevsky",
			OpenLibraryKey: pointerutil.String("OL22242A"),
			LastSyncedAt:   &synced,
		}
		require.NoError(t, service.CreateAuthor(ctx, author))
		require.NoError(t, service.UpsertMapping(ctx, &models.AuthorMapping{
			LibraryID:       library.ID,
			CalibreAuthorID: 7,
			AuthorID:        author.ID,
			MatchMethod:     "exact_name",
			Confidence:      0.98,
		}))

		provider := &countingProvider{
			searchResults: map[string][]*metadata.AuthorSummary{
				"Fyodor Dostoevsky": {{Key: "OL22242A", Name: "Fyodor Dostoevsky"}},
			},
		}
		run := newRunContext(db, library, Options{
			MinMatchConfidence: 0.75,
			ForceRematch:       true,
			Staleness: matching.StalenessWindows{
				MaxAgeDays: pointerutil.Float64(30),
			},
		})
		run.Authors = []*calibre.Author{{ID: 7, Name: "Fyodor Dostoevsky"}}

		stage := NewMatchStage(service, matching.NewOrchestrator(provider, matching.DefaultStrategies(), 0.75))
		result := stage.Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, provider.searchCalls)
		assert.Equal(t, 1, result.Stats["matched"])
	})

	t.Run("unmatched authors are collected", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		provider := &countingProvider{}

		run := newRunContext(db, library, Options{MinMatchConfidence: 0.75})
		run.Authors = []*calibre.Author{{ID: 9, Name: "Nobody At All"}}

		service := authors.NewService(db)
		stage := NewMatchStage(service, matching.NewOrchestrator(provider, matching.DefaultStrategies(), 0.75))
		result := stage.Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["unmatched"])
		require.Len(t, run.Unmatched, 1)
		assert.Equal(t, 9, run.Unmatched[0].ID)
	})
}

func TestIngestStage(t *testing.T) {
	ctx := context.Background()

	newProvider := func() *countingProvider {
		return &countingProvider{
			details: map[string]*metadata.AuthorDetail{
				"OL22242A": {
					Key:            "OL22242A",
					Name:           "Fyodor Dostoevsky",
					Biography:      "<p>Russian novelist.</p>",
					BirthDate:      "1821-11-11",
					DeathDate:      "1881-02-09",
					AlternateNames: []string{"Fyodor Dostoyevsky"},
					PhotoURLs:      []string{"https://covers.example/a.jpg", "https://covers.example/b.jpg"},
					Links:          []metadata.Link{{Title: "Wikipedia", URL: "https://en.wikipedia.org/wiki/Fyodor_Dostoevsky"}},
					RemoteIDs:      map[string]string{"viaf": "88959016"},
					WorkCount:      2,
					RatingsCount:   4200,
				},
			},
			works: map[string][]*metadata.Work{
				"OL22242A": {
					{Key: "OL1W", Title: "Crime and Punishment", Subjects: []string{"Fiction", "fiction", "Classics"}},
					{Key: "OL2W", Title: "The Idiot", Subjects: []string{"Fiction"}},
				},
			},
		}
	}

	seedMatch := func(run *Context) {
		run.MatchResults[7] = &matching.Result{
			Candidate:  &metadata.AuthorSummary{Key: "OL22242A", Name: "Fyodor Dostoevsky"},
			Confidence: 0.98,
			Method:     "exact_name",
		}
	}

	t.Run("persists the author with child rows", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)
		provider := newProvider()

		run := newRunContext(db, library, Options{MaxWorksPerAuthor: 100, MaxSubjectsPerWork: 10})
		seedMatch(run)

		result := NewIngestStage(service, provider).Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["ingested"])
		require.Contains(t, run.IngestedAuthors, "OL22242A")

		author, err := service.RetrieveAuthor(ctx, authors.RetrieveAuthorOptions{
			OpenLibraryKey:  pointerutil.String("OL22242A"),
			IncludeChildren: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "Fyodor Dostoevsky", author.Name)
		assert.Equal(t, "Dostoevsky, Fyodor", author.SortName)
		require.NotNil(t, author.Biography)
		assert.Equal(t, "Russian novelist.", *author.Biography)
		assert.NotNil(t, author.LastSyncedAt)
		assert.Len(t, author.RemoteIDs, 2)
		assert.Len(t, author.AlternateNames, 1)
		assert.Len(t, author.Links, 1)
		require.Len(t, author.Works, 2)
		assert.Equal(t, "Crime and Punishment", author.Works[0].SortTitle)
		assert.Equal(t, "Idiot, The", author.Works[1].SortTitle)

		// Only the first photo is primary.
		require.Len(t, author.Photos, 2)
		primaries := 0
		for _, photo := range author.Photos {
			if photo.IsPrimary {
				primaries++
			}
		}
		assert.Equal(t, 1, primaries)

		// Subjects were deduplicated case-insensitively.
		for _, work := range author.Works {
			if work.WorkKey == "OL1W" {
				assert.Len(t, work.Subjects, 2)
			}
		}
	})

	t.Run("subject and work caps are honored", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)
		provider := newProvider()

		run := newRunContext(db, library, Options{MaxWorksPerAuthor: 1, MaxSubjectsPerWork: 1})
		seedMatch(run)

		result := NewIngestStage(service, provider).Execute(ctx, run)
		require.True(t, result.Success)

		author, err := service.RetrieveAuthor(ctx, authors.RetrieveAuthorOptions{
			OpenLibraryKey:  pointerutil.String("OL22242A"),
			IncludeChildren: true,
		})
		require.NoError(t, err)
		require.Len(t, author.Works, 1)
		assert.Len(t, author.Works[0].Subjects, 1)
	})

	t.Run("fresh records are not fetched again", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)
		provider := newProvider()

		synced := time.Now().Add(-24 * time.Hour)
		author := &models.AuthorMetadata{
			Name:           "Fyodor Dostoevsky",
			OpenLibraryKey: pointerutil.String("OL22242A"),
			LastSyncedAt:   &synced,
		}
		require.NoError(t, service.CreateAuthor(ctx, author))

		run := newRunContext(db, library, Options{
			Staleness: matching.StalenessWindows{MaxAgeDays: pointerutil.Float64(30)},
		})
		seedMatch(run)

		result := NewIngestStage(service, provider).Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["skipped"])
		assert.Zero(t, provider.detailCalls)
		assert.Equal(t, author.ID, run.IngestedAuthors["OL22242A"])
	})

	t.Run("a missing provider record fails that author and continues", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)
		provider := newProvider()

		run := newRunContext(db, library, Options{})
		seedMatch(run)
		run.MatchResults[8] = &matching.Result{
			Candidate: &metadata.AuthorSummary{Key: "OL404A", Name: "Gone Author"},
			Method:    "exact_name",
		}

		result := NewIngestStage(service, provider).Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["ingested"])
		assert.Equal(t, 1, result.Stats["failed"])
	})
}

func TestLinkStage(t *testing.T) {
	ctx := context.Background()

	t.Run("creates mappings for ingested matches", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)

		author := &models.AuthorMetadata{Name: "Fyodor Dostoevsky", OpenLibraryKey: pointerutil.String("OL22242A")}
		require.NoError(t, service.CreateAuthor(ctx, author))

		run := newRunContext(db, library, Options{})
		run.MatchResults[7] = &matching.Result{
			Candidate:  &metadata.AuthorSummary{Key: "OL22242A", Name: "Fyodor Dostoevsky"},
			Confidence: 0.98,
			Method:     "exact_name",
		}
		run.IngestedAuthors["OL22242A"] = author.ID

		result := NewLinkStage(service).Execute(ctx, run)
		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["linked"])

		mapping, err := service.RetrieveMapping(ctx, authors.RetrieveMappingOptions{
			CalibreAuthorID: pointerutil.Int(7),
			LibraryID:       pointerutil.Int(library.ID),
		})
		require.NoError(t, err)
		assert.Equal(t, author.ID, mapping.AuthorID)
		assert.Equal(t, 0.98, mapping.Confidence)

		// Running again refreshes in place instead of duplicating.
		result = NewLinkStage(service).Execute(ctx, run)
		require.True(t, result.Success)

		count, err := db.NewSelect().Model((*models.AuthorMapping)(nil)).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("matches without an ingested record are skipped", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)

		run := newRunContext(db, library, Options{})
		run.MatchResults[7] = &matching.Result{
			Candidate: &metadata.AuthorSummary{Key: "OL22242A"},
			Method:    "exact_name",
		}

		result := NewLinkStage(service).Execute(ctx, run)
		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["skipped"])
		assert.Zero(t, result.Stats["linked"])
	})
}

func TestScoreStage(t *testing.T) {
	ctx := context.Background()

	seedAuthor := func(t *testing.T, db *bun.DB, name string, subjects []string) *models.AuthorMetadata {
		t.Helper()
		service := authors.NewService(db)
		author := &models.AuthorMetadata{
			Name:          name,
			WorkCount:     10,
			AverageRating: pointerutil.Float64(4.0),
			BirthDate:     pointerutil.String("1820"),
			DeathDate:     pointerutil.String("1880"),
		}
		require.NoError(t, service.CreateAuthor(ctx, author))

		work := &models.AuthorWork{
			AuthorID:  author.ID,
			WorkKey:   "W-" + name,
			Title:     "Work by " + name,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		_, err := db.NewInsert().Model(work).Exec(ctx)
		require.NoError(t, err)
		for _, subject := range subjects {
			row := &models.WorkSubject{WorkID: work.ID, Subject: subject}
			_, err := db.NewInsert().Model(row).Exec(ctx)
			require.NoError(t, err)
		}
		return author
	}

	t.Run("similar authors get an edge", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)

		a := seedAuthor(t, db, "Fyodor Dostoevsky", []string{"fiction", "classics"})
		b := seedAuthor(t, db, "Leo Tolstoy", []string{"fiction", "classics"})

		run := newRunContext(db, library, Options{MinSimilarityScore: 0.3})
		result := NewScoreStage(service).Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["pairs"])
		assert.Equal(t, 1, result.Stats["scored"])

		edges, err := service.ListSimilar(ctx, a.ID, 10)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		lo, hi := models.CanonicalPair(a.ID, b.ID)
		assert.Equal(t, lo, edges[0].AuthorID)
		assert.Equal(t, hi, edges[0].OtherID)
		assert.Greater(t, edges[0].Score, 0.3)
	})

	t.Run("dissimilar pairs below the floor are not persisted", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)

		seedAuthor(t, db, "Fyodor Dostoevsky", []string{"fiction"})
		modern := &models.AuthorMetadata{Name: "Modern Writer", WorkCount: 1}
		require.NoError(t, service.CreateAuthor(ctx, modern))

		run := newRunContext(db, library, Options{MinSimilarityScore: 0.5})
		result := NewScoreStage(service).Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 1, result.Stats["pairs"])
		assert.Zero(t, result.Stats["scored"])
	})

	t.Run("single author mode scores only the target", func(t *testing.T) {
		db := newTestDB(t)
		library := createTestLibrary(t, db)
		service := authors.NewService(db)

		a := seedAuthor(t, db, "Fyodor Dostoevsky", []string{"fiction"})
		seedAuthor(t, db, "Leo Tolstoy", []string{"fiction"})
		seedAuthor(t, db, "Ivan Turgenev", []string{"fiction"})

		run := newRunContext(db, library, Options{MinSimilarityScore: 0.3, TargetAuthorID: a.ID})
		result := NewScoreStage(service).Execute(ctx, run)

		require.True(t, result.Success)
		assert.Equal(t, 2, result.Stats["pairs"])
	})
}
