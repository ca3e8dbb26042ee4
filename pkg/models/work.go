package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuthorWork is a work owned by exactly one AuthorMetadata record. The work
// key is unique per author; works move between authors during merges, they
// are never duplicated.
type AuthorWork struct {
	bun.BaseModel `bun:"table:author_works,alias:w"`

	ID             int       `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AuthorID       int       `bun:",nullzero" json:"author_id"`
	WorkKey        string    `bun:",nullzero" json:"work_key"`
	Title          string    `bun:",nullzero" json:"title"`
	SortTitle      string    `json:"sort_title"`
	FirstPublished *int      `json:"first_published,omitempty"`
	RatingsCount   int       `json:"ratings_count"`
	AverageRating  *float64  `json:"average_rating,omitempty"`

	Subjects []*WorkSubject `bun:"rel:has-many,join:id=work_id" json:"subjects,omitempty"`
}

// WorkSubject is a subject tag on a work, unique per (work_id, subject).
type WorkSubject struct {
	bun.BaseModel `bun:"table:work_subjects,alias:ws"`

	ID      int    `bun:",pk,nullzero" json:"id"`
	WorkID  int    `bun:",nullzero" json:"work_id"`
	Subject string `bun:",nullzero" json:"subject"`
}
