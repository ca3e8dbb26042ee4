package dedupe

import (
	"context"
	"database/sql"
	"time"

	"github.com/bibliograph/bibliograph/pkg/database"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// Merger folds one duplicate author record into another. The merge runs as a
// single transaction over a fixed, ordered list of steps; the order is part
// of the contract and must not be rearranged.
type Merger struct {
	db bun.IDB
}

func NewMerger(db bun.IDB) *Merger {
	return &Merger{db: db}
}

type mergeStep struct {
	name string
	fn   func(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error
}

func (m *Merger) steps() []mergeStep {
	return []mergeStep{
		{"alternate_names", m.mergeAlternateNames},
		{"remote_ids", m.mergeRemoteIDs},
		{"photos", m.mergePhotos},
		{"links", m.mergeLinks},
		{"works", m.mergeWorks},
		{"scalar_fields", m.mergeScalarFields},
		{"repoint_references", m.repointReferences},
		{"sweep_and_delete", m.sweepAndDelete},
	}
}

// Merge executes every merge step for the pair inside one transaction. On
// success exactly one record remains and nothing references the merged id.
func (m *Merger) Merge(ctx context.Context, keep, merge *models.AuthorMetadata) error {
	if keep.ID == merge.ID {
		return errors.New("cannot merge an author into itself")
	}

	log := logger.FromContext(ctx)
	log.Info("merging authors", logger.Data{
		"keep_id":  keep.ID,
		"merge_id": merge.ID,
	})

	err := m.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, step := range m.steps() {
			if err := step.fn(ctx, tx, keep, merge); err != nil {
				return errors.Wrap(err, step.name)
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

// mergeAlternateNames unions both alias lists onto keep and records merge's
// primary name as an alias, deduplicating by exact string.
func (m *Merger) mergeAlternateNames(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	existing := []*models.AlternateName{}
	err := tx.NewSelect().Model(&existing).Where("author_id = ?", keep.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	known := map[string]bool{keep.Name: true}
	for _, alias := range existing {
		known[alias.Name] = true
	}

	incoming := []*models.AlternateName{}
	err = tx.NewSelect().Model(&incoming).Where("author_id = ?", merge.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	candidates := make([]string, 0, len(incoming)+1)
	for _, alias := range incoming {
		candidates = append(candidates, alias.Name)
	}
	if merge.Name != "" {
		candidates = append(candidates, merge.Name)
	}

	for _, name := range candidates {
		if known[name] {
			continue
		}
		known[name] = true
		alias := &models.AlternateName{AuthorID: keep.ID, Name: name}
		if _, err := tx.NewInsert().Model(alias).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	_, err = tx.NewDelete().
		Model((*models.AlternateName)(nil)).
		Where("author_id = ?", merge.ID).
		Exec(ctx)
	return errors.WithStack(err)
}

// mergeRemoteIDs moves merge's external identifiers onto keep, skipping
// identifier types keep already has. A uniqueness violation at insert time
// only voids that insert; known types are refreshed and the loop continues.
func (m *Merger) mergeRemoteIDs(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	knownTypes, err := m.remoteIDTypes(ctx, tx, keep.ID)
	if err != nil {
		return err
	}

	incoming := []*models.AuthorRemoteID{}
	err = tx.NewSelect().Model(&incoming).Where("author_id = ?", merge.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, rid := range incoming {
		if knownTypes[rid.IDType] {
			continue
		}
		moved := &models.AuthorRemoteID{AuthorID: keep.ID, IDType: rid.IDType, Value: rid.Value}
		if _, err := tx.NewInsert().Model(moved).Exec(ctx); err != nil {
			if database.IsUniqueViolation(err) {
				knownTypes, err = m.remoteIDTypes(ctx, tx, keep.ID)
				if err != nil {
					return err
				}
				continue
			}
			return errors.WithStack(err)
		}
		knownTypes[rid.IDType] = true
	}

	_, err = tx.NewDelete().
		Model((*models.AuthorRemoteID)(nil)).
		Where("author_id = ?", merge.ID).
		Exec(ctx)
	return errors.WithStack(err)
}

func (m *Merger) remoteIDTypes(ctx context.Context, tx bun.Tx, authorID int) (map[string]bool, error) {
	ids := []*models.AuthorRemoteID{}
	err := tx.NewSelect().Model(&ids).Where("author_id = ?", authorID).Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	types := map[string]bool{}
	for _, rid := range ids {
		types[rid.IDType] = true
	}
	return types, nil
}

// mergePhotos moves photos keep doesn't already have, keyed by provider
// photo id or URL. Moved photos never become primary.
func (m *Merger) mergePhotos(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	existing := []*models.AuthorPhoto{}
	err := tx.NewSelect().Model(&existing).Where("author_id = ?", keep.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	known := map[string]bool{}
	for _, photo := range existing {
		known[photo.DedupKey()] = true
	}

	incoming := []*models.AuthorPhoto{}
	err = tx.NewSelect().Model(&incoming).Where("author_id = ?", merge.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, photo := range incoming {
		if known[photo.DedupKey()] {
			continue
		}
		known[photo.DedupKey()] = true
		moved := &models.AuthorPhoto{
			AuthorID:      keep.ID,
			RemotePhotoID: photo.RemotePhotoID,
			URL:           photo.URL,
			IsPrimary:     false,
		}
		if _, err := tx.NewInsert().Model(moved).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	_, err = tx.NewDelete().
		Model((*models.AuthorPhoto)(nil)).
		Where("author_id = ?", merge.ID).
		Exec(ctx)
	return errors.WithStack(err)
}

// mergeLinks moves links keep doesn't already have, keyed by URL.
func (m *Merger) mergeLinks(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	existing := []*models.AuthorLink{}
	err := tx.NewSelect().Model(&existing).Where("author_id = ?", keep.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	known := map[string]bool{}
	for _, link := range existing {
		known[link.URL] = true
	}

	incoming := []*models.AuthorLink{}
	err = tx.NewSelect().Model(&incoming).Where("author_id = ?", merge.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, link := range incoming {
		if known[link.URL] {
			continue
		}
		known[link.URL] = true
		moved := &models.AuthorLink{AuthorID: keep.ID, Title: link.Title, URL: link.URL}
		if _, err := tx.NewInsert().Model(moved).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	_, err = tx.NewDelete().
		Model((*models.AuthorLink)(nil)).
		Where("author_id = ?", merge.ID).
		Exec(ctx)
	return errors.WithStack(err)
}

// mergeWorks reassigns merge's works by work key: a work whose key already
// exists on keep is deleted with its subjects, anything else is re-parented.
func (m *Merger) mergeWorks(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	existing := []*models.AuthorWork{}
	err := tx.NewSelect().Model(&existing).Where("author_id = ?", keep.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	known := map[string]bool{}
	for _, work := range existing {
		known[work.WorkKey] = true
	}

	incoming := []*models.AuthorWork{}
	err = tx.NewSelect().Model(&incoming).Where("author_id = ?", merge.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, work := range incoming {
		if known[work.WorkKey] {
			if err := deleteWork(ctx, tx, work.ID); err != nil {
				return err
			}
			continue
		}
		known[work.WorkKey] = true
		_, err := tx.NewUpdate().
			Model((*models.AuthorWork)(nil)).
			Set("author_id = ?", keep.ID).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", work.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// mergeScalarFields fills keep's null scalars from merge and takes the max
// of the counters.
func (m *Merger) mergeScalarFields(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	if keep.OpenLibraryKey == nil {
		// The unique index on openlibrary_key means merge's key has to be
		// detached before keep can claim it.
		_, err := tx.NewUpdate().
			Model((*models.AuthorMetadata)(nil)).
			Set("openlibrary_key = NULL").
			Where("id = ?", merge.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		keep.OpenLibraryKey = merge.OpenLibraryKey
	}
	if keep.Biography == nil || *keep.Biography == "" {
		keep.Biography = merge.Biography
	}
	if keep.BirthDate == nil {
		keep.BirthDate = merge.BirthDate
	}
	if keep.DeathDate == nil {
		keep.DeathDate = merge.DeathDate
	}
	if keep.SortName == "" {
		keep.SortName = merge.SortName
	}
	if merge.WorkCount > keep.WorkCount {
		keep.WorkCount = merge.WorkCount
	}
	if merge.RatingsCount > keep.RatingsCount {
		keep.RatingsCount = merge.RatingsCount
	}
	if keep.AverageRating == nil {
		keep.AverageRating = merge.AverageRating
	}
	if keep.LastSyncedAt == nil || (merge.LastSyncedAt != nil && merge.LastSyncedAt.After(*keep.LastSyncedAt)) {
		keep.LastSyncedAt = merge.LastSyncedAt
	}

	keep.UpdatedAt = time.Now()
	_, err := tx.NewUpdate().
		Model(keep).
		Column("openlibrary_key", "biography", "birth_date", "death_date", "sort_name",
			"work_count", "ratings_count", "average_rating", "last_synced_at", "updated_at").
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

// repointReferences moves mappings and similarity edges from merge to keep,
// dropping rows that would become self-edges or duplicates.
func (m *Merger) repointReferences(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	mappings := []*models.AuthorMapping{}
	err := tx.NewSelect().Model(&mappings).Where("author_id = ?", merge.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, mapping := range mappings {
		_, err := tx.NewUpdate().
			Model((*models.AuthorMapping)(nil)).
			Set("author_id = ?", keep.ID).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", mapping.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	edges := []*models.AuthorSimilarity{}
	err = tx.NewSelect().
		Model(&edges).
		Where("author_id = ? OR other_id = ?", merge.ID, merge.ID).
		Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, edge := range edges {
		a, b := edge.AuthorID, edge.OtherID
		if a == merge.ID {
			a = keep.ID
		}
		if b == merge.ID {
			b = keep.ID
		}
		a, b = models.CanonicalPair(a, b)

		drop := a == b
		if !drop {
			exists, err := tx.NewSelect().
				Model((*models.AuthorSimilarity)(nil)).
				Where("author_id = ? AND other_id = ?", a, b).
				Where("id != ?", edge.ID).
				Exists(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			drop = exists
		}

		if drop {
			_, err := tx.NewDelete().
				Model((*models.AuthorSimilarity)(nil)).
				Where("id = ?", edge.ID).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			continue
		}

		_, err := tx.NewUpdate().
			Model((*models.AuthorSimilarity)(nil)).
			Set("author_id = ?", a).
			Set("other_id = ?", b).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", edge.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// sweepAndDelete removes anything still referencing the merge record, then
// the record itself.
func (m *Merger) sweepAndDelete(ctx context.Context, tx bun.Tx, keep, merge *models.AuthorMetadata) error {
	leftover := []*models.AuthorWork{}
	err := tx.NewSelect().Model(&leftover).Where("author_id = ?", merge.ID).Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, work := range leftover {
		if err := deleteWork(ctx, tx, work.ID); err != nil {
			return err
		}
	}

	for _, model := range []interface{}{
		(*models.AuthorUserPhoto)(nil),
		(*models.AuthorUserMeta)(nil),
	} {
		_, err := tx.NewDelete().
			Model(model).
			Where("author_id = ?", merge.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	_, err = tx.NewDelete().
		Model((*models.AuthorMetadata)(nil)).
		Where("id = ?", merge.ID).
		Exec(ctx)
	return errors.WithStack(err)
}

func deleteWork(ctx context.Context, tx bun.Tx, workID int) error {
	_, err := tx.NewDelete().
		Model((*models.WorkSubject)(nil)).
		Where("work_id = ?", workID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = tx.NewDelete().
		Model((*models.AuthorWork)(nil)).
		Where("id = ?", workID).
		Exec(ctx)
	return errors.WithStack(err)
}
