package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Library is one scanned ebook catalog. CatalogPath points at the library's
// Calibre metadata.db, which is only ever opened read-only.
type Library struct {
	bun.BaseModel `bun:"table:libraries,alias:l"`

	ID          int        `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Name        string     `bun:",nullzero" json:"name"`
	CatalogPath string     `bun:",nullzero" json:"catalog_path"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}
