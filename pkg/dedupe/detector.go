package dedupe

import (
	"context"

	"github.com/bibliograph/bibliograph/pkg/matching"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/xrash/smetrics"
)

// DefaultSimilarityThreshold is the minimum normalized name similarity for
// two authors to be considered duplicate candidates.
const DefaultSimilarityThreshold = 0.85

// Pair is one detected duplicate: Keep survives the merge, Merge is folded
// into it.
type Pair struct {
	Keep       *models.AuthorMetadata
	Merge      *models.AuthorMetadata
	KeepScore  float64
	MergeScore float64
	Similarity float64
}

// Detector finds likely duplicate author records by comparing normalized
// names. The comparison is quadratic over the distinct pairs of one
// library's authors; author counts are small enough that this is fine.
type Detector struct {
	db        bun.IDB
	threshold float64
}

func NewDetector(db bun.IDB, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Detector{db: db, threshold: threshold}
}

// FindDuplicates loads every persisted author and returns the candidate
// pairs at or above the similarity threshold, each oriented keep-first.
// Orientation is by quality ranking, except that when exactly one of the
// two is mapped into libraryID, that one is kept no matter its ranking, so
// the scanned library never loses its book associations.
func (d *Detector) FindDuplicates(ctx context.Context, libraryID int) ([]*Pair, error) {
	authors := []*models.AuthorMetadata{}
	err := d.db.NewSelect().
		Model(&authors).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	mapped, err := d.mappedAuthorIDs(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	pairs := []*Pair{}
	for i := 0; i < len(authors); i++ {
		for j := i + 1; j < len(authors); j++ {
			similarity := nameSimilarity(authors[i].Name, authors[j].Name)
			if similarity < d.threshold {
				continue
			}
			pairs = append(pairs, orientPair(authors[i], authors[j], mapped, similarity))
		}
	}

	return pairs, nil
}

func (d *Detector) mappedAuthorIDs(ctx context.Context, libraryID int) (map[int]bool, error) {
	mappings := []*models.AuthorMapping{}
	err := d.db.NewSelect().
		Model(&mappings).
		Where("library_id = ?", libraryID).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	mapped := map[int]bool{}
	for _, m := range mappings {
		mapped[m.AuthorID] = true
	}
	return mapped, nil
}

// nameSimilarity is 1 - normalized edit distance over normalized names.
func nameSimilarity(a, b string) float64 {
	na := matching.NormalizeName(a)
	nb := matching.NormalizeName(b)
	if na == nb {
		return 1
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	if longest == 0 {
		return 0
	}
	distance := smetrics.WagnerFischer(na, nb, 1, 1, 1)
	return 1 - float64(distance)/float64(longest)
}

func orientPair(a, b *models.AuthorMetadata, mapped map[int]bool, similarity float64) *Pair {
	scoreA := qualityScore(a)
	scoreB := qualityScore(b)

	keep, merge := a, b
	keepScore, mergeScore := scoreA, scoreB
	swap := func() {
		keep, merge = b, a
		keepScore, mergeScore = scoreB, scoreA
	}

	switch {
	case mapped[a.ID] && !mapped[b.ID]:
		// a stays keep
	case mapped[b.ID] && !mapped[a.ID]:
		swap()
	case scoreB > scoreA:
		swap()
		// Equal quality keeps the lower id, preserved by the ascending
		// load order.
	}

	return &Pair{
		Keep:       keep,
		Merge:      merge,
		KeepScore:  keepScore,
		MergeScore: mergeScore,
		Similarity: similarity,
	}
}
