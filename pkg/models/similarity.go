package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuthorSimilarity is an undirected edge between two AuthorMetadata records.
// Edges are stored in canonical lower-id-first direction, are irreflexive,
// and unique per unordered pair.
type AuthorSimilarity struct {
	bun.BaseModel `bun:"table:author_similarities,alias:sim"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AuthorID  int       `bun:",nullzero" json:"author_id"`
	OtherID   int       `bun:",nullzero" json:"other_id"`
	Score     float64   `json:"score"`
}

// CanonicalPair returns the pair (a, b) ordered lower-id-first.
func CanonicalPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}
