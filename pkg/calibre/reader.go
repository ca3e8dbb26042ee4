package calibre

import (
	"context"
	"database/sql"
	"net/url"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Reader provides read-only access to a Calibre catalog database. The
// underlying SQLite file is opened in immutable mode so a scan can never
// mutate or lock the user's catalog.
type Reader struct {
	db *bun.DB
}

func Open(catalogPath string) (*Reader, error) {
	dsn := "file:" + catalogPath + "?" + url.Values{
		"mode":      []string{"ro"},
		"immutable": []string{"1"},
	}.Encode()

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := db.Exec("SELECT 1"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "open catalog")
	}

	return &Reader{db: db}, nil
}

func (r *Reader) Close() error {
	return errors.WithStack(r.db.Close())
}

func (r *Reader) ListAuthors(ctx context.Context) ([]*Author, error) {
	authors := []*Author{}
	err := r.db.NewSelect().Model(&authors).Order("a.id ASC").Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return authors, nil
}

func (r *Reader) ListBooks(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	err := r.db.NewSelect().Model(&books).Order("b.id ASC").Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return books, nil
}

func (r *Reader) ListBookAuthorLinks(ctx context.Context) ([]*BookAuthorLink, error) {
	links := []*BookAuthorLink{}
	err := r.db.NewSelect().Model(&links).Order("bal.id ASC").Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return links, nil
}
