package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func createWork(t *testing.T, db bun.IDB, authorID int, key, title string, subjects ...string) *models.AuthorWork {
	t.Helper()

	ctx := context.Background()
	work := &models.AuthorWork{
		AuthorID:  authorID,
		WorkKey:   key,
		Title:     title,
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
	return work
}

func TestMergerMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("full merge leaves one record with everything", func(t *testing.T) {
		db := newTestDB(t)
		library := createLibrary(t, db)

		keep := createAuthor(t, db, &models.AuthorMetadata{
			Name:           "Fyodor Dostoevsky",
			OpenLibraryKey: pointerutil.String("OL22242A"),
			WorkCount:      5,
		})
		merge := createAuthor(t, db, &models.AuthorMetadata{
			Name:         "Fyodor Dostoyevsky",
			Biography:    pointerutil.String("Russian novelist."),
			BirthDate:    pointerutil.String("1821-11-11"),
			WorkCount:    8,
			RatingsCount: 4200,
		})

		// Children of the record being folded in.
		_, err := db.NewInsert().Model(&models.AlternateName{AuthorID: merge.ID, Name: "F. M. Dostoevsky"}).Exec(ctx)
		require.NoError(t, err)
		_, err = db.NewInsert().Model(&models.AuthorRemoteID{AuthorID: merge.ID, IDType: models.RemoteIDTypeVIAF, Value: "88959016"}).Exec(ctx)
		require.NoError(t, err)
		_, err = db.NewInsert().Model(&models.AuthorRemoteID{AuthorID: merge.ID, IDType: models.RemoteIDTypeOpenLibrary, Value: "OL99999A"}).Exec(ctx)
		require.NoError(t, err)
		_, err = db.NewInsert().Model(&models.AuthorRemoteID{AuthorID: keep.ID, IDType: models.RemoteIDTypeOpenLibrary, Value: "OL22242A"}).Exec(ctx)
		require.NoError(t, err)
		_, err = db.NewInsert().Model(&models.AuthorPhoto{AuthorID: merge.ID, URL: "https://covers.example/a.jpg", IsPrimary: true}).Exec(ctx)
		require.NoError(t, err)
		_, err = db.NewInsert().Model(&models.AuthorLink{AuthorID: merge.ID, Title: "Wikipedia", URL: "https://en.wikipedia.org/wiki/Fyodor_Dostoevsky"}).Exec(ctx)
		require.NoError(t, err)

		createWork(t, db, keep.ID, "OL1W", "Crime and Punishment", "fiction")
		createWork(t, db, merge.ID, "OL1W", "Crime and Punishment", "classics")
		createWork(t, db, merge.ID, "OL2W", "The Idiot", "fiction")

		mapping := &models.AuthorMapping{
			LibraryID:       library.ID,
			CalibreAuthorID: 7,
			AuthorID:        merge.ID,
			MatchMethod:     "fuzzy",
			Confidence:      0.9,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		_, err = db.NewInsert().Model(mapping).Exec(ctx)
		require.NoError(t, err)

		err = NewMerger(db).Merge(ctx, keep, merge)
		require.NoError(t, err)

		// The merged record is gone.
		exists, err := db.NewSelect().Model((*models.AuthorMetadata)(nil)).Where("id = ?", merge.ID).Exists(ctx)
		require.NoError(t, err)
		assert.False(t, exists)

		// Merge's primary name became an alias on keep, alongside its own.
		aliases := []*models.AlternateName{}
		err = db.NewSelect().Model(&aliases).Where("author_id = ?", keep.ID).Order("name ASC").Scan(ctx)
		require.NoError(t, err)
		names := make([]string, len(aliases))
		for i, alias := range aliases {
			names[i] = alias.Name
		}
		assert.Equal(t, []string{"F. M. Dostoevsky", "Fyodor Dostoyevsky"}, names)

		// VIAF moved over; the conflicting openlibrary id was skipped.
		remoteIDs := []*models.AuthorRemoteID{}
		err = db.NewSelect().Model(&remoteIDs).Where("author_id = ?", keep.ID).Order("id_type ASC").Scan(ctx)
		require.NoError(t, err)
		require.Len(t, remoteIDs, 2)
		assert.Equal(t, models.RemoteIDTypeOpenLibrary, remoteIDs[0].IDType)
		assert.Equal(t, "OL22242A", remoteIDs[0].Value)
		assert.Equal(t, models.RemoteIDTypeVIAF, remoteIDs[1].IDType)

		// The moved photo lost its primary flag.
		photos := []*models.AuthorPhoto{}
		err = db.NewSelect().Model(&photos).Where("author_id = ?", keep.ID).Scan(ctx)
		require.NoError(t, err)
		require.Len(t, photos, 1)
		assert.False(t, photos[0].IsPrimary)

		// The duplicate work was dropped, the unique one re-parented.
		works := []*models.AuthorWork{}
		err = db.NewSelect().Model(&works).Where("author_id = ?", keep.ID).Order("work_key ASC").Scan(ctx)
		require.NoError(t, err)
		require.Len(t, works, 2)
		assert.Equal(t, "Crime and Punishment", works[0].Title)
		assert.Equal(t, "The Idiot", works[1].Title)

		// No orphaned works or subjects reference the deleted id.
		orphans, err := db.NewSelect().Model((*models.AuthorWork)(nil)).Where("author_id = ?", merge.ID).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, orphans)

		// Scalars: keep's non-null wins, numeric max, null filled from merge.
		refreshed := &models.AuthorMetadata{}
		err = db.NewSelect().Model(refreshed).Where("id = ?", keep.ID).Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, "OL22242A", *refreshed.OpenLibraryKey)
		assert.Equal(t, "Russian novelist.", *refreshed.Biography)
		assert.Equal(t, "1821-11-11", *refreshed.BirthDate)
		assert.Equal(t, 8, refreshed.WorkCount)
		assert.Equal(t, 4200, refreshed.RatingsCount)

		// The library mapping followed the merge.
		refreshedMapping := &models.AuthorMapping{}
		err = db.NewSelect().Model(refreshedMapping).Where("id = ?", mapping.ID).Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, keep.ID, refreshedMapping.AuthorID)
	})

	t.Run("similarity edges are repointed and self edges dropped", func(t *testing.T) {
		db := newTestDB(t)

		keep := createAuthor(t, db, &models.AuthorMetadata{Name: "Fyodor Dostoevsky"})
		merge := createAuthor(t, db, &models.AuthorMetadata{Name: "Fyodor Dostoyevsky"})
		other := createAuthor(t, db, &models.AuthorMetadata{Name: "Leo Tolstoy"})

		insertEdge := func(a, b int, score float64) {
			a, b = models.CanonicalPair(a, b)
			edge := &models.AuthorSimilarity{
				AuthorID:  a,
				OtherID:   b,
				Score:     score,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			_, err := db.NewInsert().Model(edge).Exec(ctx)
			require.NoError(t, err)
		}

		insertEdge(keep.ID, merge.ID, 0.9)  // becomes a self edge, dropped
		insertEdge(merge.ID, other.ID, 0.6) // repointed to keep
		insertEdge(keep.ID, other.ID, 0.7)  // already exists, repointed dup dropped

		err := NewMerger(db).Merge(ctx, keep, merge)
		require.NoError(t, err)

		edges := []*models.AuthorSimilarity{}
		err = db.NewSelect().Model(&edges).Scan(ctx)
		require.NoError(t, err)

		require.Len(t, edges, 1)
		a, b := models.CanonicalPair(keep.ID, other.ID)
		assert.Equal(t, a, edges[0].AuthorID)
		assert.Equal(t, b, edges[0].OtherID)
	})

	t.Run("refuses to merge an author into itself", func(t *testing.T) {
		db := newTestDB(t)
		author := createAuthor(t, db, &models.AuthorMetadata{Name: "Jane Austen"})

		err := NewMerger(db).Merge(ctx, author, author)
		assert.Error(t, err)
	})
}
