package dedupe

import (
	"time"

	"github.com/bibliograph/bibliograph/pkg/models"
)

// qualityScore ranks how complete an author record is. Higher scores win the
// keep slot: work volume first, then rating volume, then field completeness,
// with a small bonus for a recent sync.
func qualityScore(author *models.AuthorMetadata) float64 {
	score := float64(author.WorkCount) * 10
	score += float64(author.RatingsCount) * 0.1

	for _, present := range []bool{
		author.OpenLibraryKey != nil,
		author.Biography != nil && *author.Biography != "",
		author.BirthDate != nil,
		author.DeathDate != nil,
		author.AverageRating != nil,
	} {
		if present {
			score += 5
		}
	}

	if author.LastSyncedAt != nil {
		age := time.Since(*author.LastSyncedAt)
		if age < 30*24*time.Hour {
			score += 3
		}
	}

	return score
}
