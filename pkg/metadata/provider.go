package metadata

import (
	"context"
)

// Provider is a pluggable external bibliographic metadata source. The scan
// pipeline is best-effort: implementations report not-found and rate-limit
// conditions through the sentinel errors in errors.go so callers can count a
// single author as failed without aborting the batch.
type Provider interface {
	// Name returns the provider identifier (e.g. "openlibrary").
	Name() string

	// SearchAuthors finds candidate authors for a (normalized) name.
	SearchAuthors(ctx context.Context, name string, limit int) ([]*AuthorSummary, error)

	// GetAuthor fetches the full author record for a provider key.
	GetAuthor(ctx context.Context, key string) (*AuthorDetail, error)

	// GetAuthorWorks fetches up to limit works for a provider key.
	GetAuthorWorks(ctx context.Context, key string, limit int) ([]*Work, error)

	// SearchBooks finds candidate books by title and optional author name.
	SearchBooks(ctx context.Context, title, author string, limit int) ([]*BookSummary, error)

	// GetBook fetches the full book record for a provider key.
	GetBook(ctx context.Context, key string) (*BookDetail, error)
}
