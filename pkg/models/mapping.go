package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuthorMapping binds a catalog (Calibre) author within one library to a
// canonical AuthorMetadata record. Unique per (calibre_author_id, library_id).
type AuthorMapping struct {
	bun.BaseModel `bun:"table:author_mappings,alias:map"`

	ID              int       `bun:",pk,nullzero" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LibraryID       int       `bun:",nullzero" json:"library_id"`
	CalibreAuthorID int       `bun:",nullzero" json:"calibre_author_id"`
	AuthorID        int       `bun:",nullzero" json:"author_id"`
	MatchMethod     string    `json:"match_method"`
	Confidence      float64   `json:"confidence"`

	Author *AuthorMetadata `bun:"rel:belongs-to,join:author_id=id" json:"author,omitempty"`
}
