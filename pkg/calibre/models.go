package calibre

import (
	"github.com/uptrace/bun"
)

// Row types mirror the handful of Calibre metadata.db tables the scan
// pipeline reads. The catalog is never written to.

type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID   int    `bun:",pk" json:"id"`
	Name string `json:"name"`
	Sort string `json:"sort"`
}

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID          int      `bun:",pk" json:"id"`
	Title       string   `json:"title"`
	Pubdate     *string  `json:"pubdate,omitempty"`
	SeriesIndex *float64 `bun:"series_index" json:"series_index,omitempty"`
}

// BookAuthorLink joins books to authors in the catalog.
type BookAuthorLink struct {
	bun.BaseModel `bun:"table:books_authors_link,alias:bal"`

	ID     int `bun:",pk" json:"id"`
	Book   int `json:"book"`
	Author int `json:"author"`
}
