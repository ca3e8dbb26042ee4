package matching

import (
	"context"
	"testing"

	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	results []*metadata.AuthorSummary
	err     error
	queries []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SearchAuthors(_ context.Context, query string, _ int) ([]*metadata.AuthorSummary, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func (f *fakeProvider) GetAuthor(context.Context, string) (*metadata.AuthorDetail, error) {
	return nil, metadata.ErrNotFound
}

func (f *fakeProvider) GetAuthorWorks(context.Context, string, int) ([]*metadata.Work, error) {
	return nil, metadata.ErrNotFound
}

func (f *fakeProvider) SearchBooks(context.Context, string, string, int) ([]*metadata.BookSummary, error) {
	return nil, metadata.ErrNotFound
}

func (f *fakeProvider) GetBook(context.Context, string) (*metadata.BookDetail, error) {
	return nil, metadata.ErrNotFound
}

func TestOrchestratorMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers the identifier strategy over exact name", func(t *testing.T) {
		provider := &fakeProvider{results: []*metadata.AuthorSummary{
			{Key: "OL1A", Name: "Fyodor Dostoevsky"},
			{Key: "OL2A", Name: "Fyodor Dostoevsky"},
		}}
		o := NewOrchestrator(provider, DefaultStrategies(), 0.75)

		result, err := o.Match(ctx, Target{Name: "Fyodor Dostoevsky", KnownKey: pointerutil.String("OL2A")})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "OL2A", result.Candidate.Key)
		assert.Equal(t, MethodRemoteID, result.Method)
	})

	t.Run("falls through to fuzzy when exact declines", func(t *testing.T) {
		provider := &fakeProvider{results: []*metadata.AuthorSummary{
			{Key: "OL1A", Name: "Fyodor Dostoyevsky"},
		}}
		o := NewOrchestrator(provider, DefaultStrategies(), 0.75)

		result, err := o.Match(ctx, Target{Name: "Fyodor Dostoevsky"})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, MethodFuzzy, result.Method)
	})

	t.Run("returns nil below the confidence floor", func(t *testing.T) {
		provider := &fakeProvider{results: []*metadata.AuthorSummary{
			{Key: "OL1A", Name: "Jane Austen"},
		}}
		o := NewOrchestrator(provider, DefaultStrategies(), 0.75)

		result, err := o.Match(ctx, Target{Name: "Fyodor Dostoevsky"})
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("treats provider not-found as unmatched", func(t *testing.T) {
		provider := &fakeProvider{err: metadata.ErrNotFound}
		o := NewOrchestrator(provider, DefaultStrategies(), 0.75)

		result, err := o.Match(ctx, Target{Name: "Nobody"})
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("picks the best candidate within a strategy", func(t *testing.T) {
		provider := &fakeProvider{results: []*metadata.AuthorSummary{
			{Key: "OL1A", Name: "Fyodor Dostoyevski"},
			{Key: "OL2A", Name: "Fyodor Dostoyevsky"},
		}}
		o := NewOrchestrator(provider, DefaultStrategies(), 0.75)

		result, err := o.Match(ctx, Target{Name: "Fyodor Dostoyevsky"})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "OL2A", result.Candidate.Key)
		assert.Equal(t, MethodExactName, result.Method)
	})
}
