package pipeline

import (
	"context"
	"fmt"

	"github.com/bibliograph/bibliograph/pkg/calibre"
)

// CrawlStage reads authors, books, and their links out of the library's
// Calibre catalog into the run context.
type CrawlStage struct{}

func NewCrawlStage() *CrawlStage {
	return &CrawlStage{}
}

func (s *CrawlStage) Name() string { return "crawl" }

func (s *CrawlStage) Execute(ctx context.Context, run *Context) StageResult {
	reader, err := calibre.Open(run.Library.CatalogPath)
	if err != nil {
		return failureResult(fmt.Sprintf("opening catalog: %v", err), nil)
	}
	defer reader.Close()

	run.ReportProgress(0.1, map[string]interface{}{"step": "connected"})

	if err := run.CheckCancelled(); err != nil {
		return failureResult(err.Error(), nil)
	}

	authors, err := reader.ListAuthors(ctx)
	if err != nil {
		return failureResult(fmt.Sprintf("listing authors: %v", err), nil)
	}
	if limit := run.Options.AuthorLimit; limit > 0 && len(authors) > limit {
		authors = authors[:limit]
	}
	run.Authors = authors
	run.ReportProgress(0.4, map[string]interface{}{"step": "authors", "count": len(authors)})

	if err := run.CheckCancelled(); err != nil {
		return failureResult(err.Error(), nil)
	}

	books, err := reader.ListBooks(ctx)
	if err != nil {
		return failureResult(fmt.Sprintf("listing books: %v", err), nil)
	}
	run.Books = books
	run.ReportProgress(0.7, map[string]interface{}{"step": "books", "count": len(books)})

	if err := run.CheckCancelled(); err != nil {
		return failureResult(err.Error(), nil)
	}

	links, err := reader.ListBookAuthorLinks(ctx)
	if err != nil {
		return failureResult(fmt.Sprintf("listing book-author links: %v", err), nil)
	}
	run.Links = links
	run.ReportProgress(1, map[string]interface{}{"step": "links", "count": len(links)})

	return successResult("catalog crawled", map[string]int{
		"authors": len(run.Authors),
		"books":   len(run.Books),
		"links":   len(run.Links),
	})
}
