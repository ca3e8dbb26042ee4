package calibre

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func createCatalog(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "metadata.db")
	db, err := sql.Open(sqliteshim.ShimName, path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT NOT NULL, sort TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE books (id INTEGER PRIMARY KEY, title TEXT NOT NULL, pubdate TEXT, series_index REAL)`,
		`CREATE TABLE books_authors_link (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, author INTEGER NOT NULL)`,
		`INSERT INTO authors (id, name, sort) VALUES (1, 'Fyodor Dostoevsky', 'Dostoevsky, Fyodor')`,
		`INSERT INTO authors (id, name, sort) VALUES (2, 'Jane Austen', 'Austen, Jane')`,
		`INSERT INTO books (id, title, pubdate) VALUES (10, 'Crime and Punishment', '1866-01-01')`,
		`INSERT INTO books_authors_link (id, book, author) VALUES (100, 10, 1)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	return path
}

func TestReader_ListsCatalogRows(t *testing.T) {
	path := createCatalog(t)

	r, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	ctx := context.Background()

	authors, err := r.ListAuthors(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Equal(t, "Fyodor Dostoevsky", authors[0].Name)

	books, err := r.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Crime and Punishment", books[0].Title)

	links, err := r.ListBookAuthorLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 1, links[0].Author)
	assert.Equal(t, 10, links[0].Book)
}

func TestOpen_MissingCatalog(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
}
