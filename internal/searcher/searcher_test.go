package searcher

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperdex/internal/embedder"
	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/internal/storage"
	"github.com/dshills/paperdex/internal/vectorstore"
	"github.com/dshills/paperdex/pkg/types"
)

// setupTestSearcher creates a searcher over an in-memory store
func setupTestSearcher(t *testing.T, opts ...Option) (*Searcher, *vectorstore.Store) {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := vectorstore.New(context.Background(), db, embedder.NewAdapter(embedder.NewLocalProvider(64)))
	require.NoError(t, err)

	s, err := NewSearcher(store, 16, opts...)
	require.NoError(t, err)
	return s, store
}

func seed(t *testing.T, store *vectorstore.Store) {
	t.Helper()
	docs := []vectorstore.NewDocument{
		{Content: "Groundwater levels fell during the drought.", Source: "a.pdf", Category: types.CategoryFinding},
		{Content: "Wells were sampled monthly.", Source: "a.pdf", Category: types.CategoryMethod},
		{Content: "Recharge correlates with rainfall.", Source: "b.pdf", Category: types.CategoryRelationship},
		{Content: "Nitrate exceeded limits in shallow wells.", Source: "b.pdf", Category: types.CategoryFinding},
	}
	_, err := store.InsertBatch(context.Background(), docs)
	require.NoError(t, err)
}

func ptr(f float64) *float64 { return &f }

// stubStore is a Store with canned responses
type stubStore struct {
	results  []types.SearchResult
	err      error
	docCount int
	searches int
	filters  *storage.SearchFilters
}

func (s *stubStore) SearchWithFilters(_ context.Context, _ string, topK int, filters *storage.SearchFilters) ([]types.SearchResult, error) {
	s.searches++
	s.filters = filters
	if s.err != nil {
		return nil, s.err
	}
	return s.results[:min(topK, len(s.results))], nil
}

func (s *stubStore) DocumentCount(context.Context) (int, error) {
	return s.docCount, nil
}

func TestSearch_FindsExactMatchFirst(t *testing.T) {
	s, store := setupTestSearcher(t)
	seed(t, store)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "Wells were sampled monthly."})
	require.NoError(t, err)
	require.Len(t, resp.Results, DefaultTopK)
	assert.Equal(t, DefaultTopK, resp.TotalResults)
	assert.Equal(t, "Wells were sampled monthly.", resp.Results[0].Content)
	assert.GreaterOrEqual(t, resp.Results[0].Similarity, 0.99)
	assert.False(t, resp.CacheHit)

	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		require.NoError(t, r.Validate())
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Results[i-1].Similarity, r.Similarity)
		}
	}
}

func TestSearch_CategoryFilter(t *testing.T) {
	s, store := setupTestSearcher(t)
	seed(t, store)

	resp, err := s.Search(context.Background(), SearchRequest{
		Query:    "wells",
		TopK:     10,
		Category: types.CategoryFinding,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, types.CategoryFinding, r.Category)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	s, store := setupTestSearcher(t)
	seed(t, store)
	ctx := context.Background()
	req := SearchRequest{Query: "rainfall and recharge", TopK: 4}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	for range 5 {
		again, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.Results, again.Results)
	}
}

func TestSearch_MinSimilarity(t *testing.T) {
	stub := &stubStore{results: []types.SearchResult{{ID: "a", Similarity: 0.9, Content: "x"}}}
	s, err := NewSearcher(stub, 0)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), SearchRequest{Query: "q", MinSimilarity: ptr(0.5)})
	require.NoError(t, err)
	require.NotNil(t, stub.filters)
	assert.True(t, stub.filters.HasMinimum)
	assert.Equal(t, 0.5, stub.filters.MinSimilarity)

	_, err = s.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.False(t, stub.filters.HasMinimum)
}

func TestSearch_MinSimilarityAgainstStore(t *testing.T) {
	s, store := setupTestSearcher(t)
	seed(t, store)

	resp, err := s.Search(context.Background(), SearchRequest{
		Query:         "Recharge correlates with rainfall.",
		TopK:          10,
		MinSimilarity: ptr(0.99),
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, types.CategoryRelationship, resp.Results[0].Category)
}

func TestSearch_InvalidRequests(t *testing.T) {
	s, err := NewSearcher(&stubStore{}, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"empty query", SearchRequest{Query: "  "}},
		{"negative top k", SearchRequest{Query: "q", TopK: -1}},
		{"top k too large", SearchRequest{Query: "q", TopK: MaxTopK + 1}},
		{"floor too low", SearchRequest{Query: "q", MinSimilarity: ptr(-1.5)}},
		{"floor too high", SearchRequest{Query: "q", MinSimilarity: ptr(1.01)}},
		{"floor not a number", SearchRequest{Query: "q", MinSimilarity: ptr(math.NaN())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, types.ErrInvalidParameter)
		})
	}
}

func TestSearch_StoreError(t *testing.T) {
	boom := errors.Join(types.ErrEmbeddingFailure, errors.New("provider down"))
	s, err := NewSearcher(&stubStore{err: boom}, 0)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), SearchRequest{Query: "q"})
	assert.ErrorIs(t, err, types.ErrEmbeddingFailure)
}

func TestSearch_Cache(t *testing.T) {
	stub := &stubStore{
		results:  []types.SearchResult{{ID: "a", Similarity: 0.8, Content: "x", Category: "finding"}},
		docCount: 1,
	}
	m := metrics.New()
	s, err := NewSearcher(stub, 0, WithMetrics(m))
	require.NoError(t, err)
	ctx := context.Background()
	req := SearchRequest{Query: "q", UseCache: true}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, stub.searches)
	assert.Equal(t, 1, s.CacheLen())

	// a cached response is a copy
	second.Results[0].Content = "changed"
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "x", third.Results[0].Content)

	// new documents invalidate the entry
	stub.docCount = 2
	fourth, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit)
	assert.Equal(t, 2, stub.searches)

	// without UseCache the cache is bypassed
	_, err = s.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 3, stub.searches)

	s.InvalidateCache()
	assert.Zero(t, s.CacheLen())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("miss")))
}

func TestSearch_CacheExpires(t *testing.T) {
	stub := &stubStore{results: []types.SearchResult{{ID: "a", Content: "x"}}}
	s, err := NewSearcher(stub, 0, WithCacheTTL(time.Nanosecond))
	require.NoError(t, err)
	ctx := context.Background()
	req := SearchRequest{Query: "q", UseCache: true}

	_, err = s.Search(ctx, req)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	resp, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 2, stub.searches)
}

func TestNewSearcher_RequiresStore(t *testing.T) {
	_, err := NewSearcher(nil, 0)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestGroupByCategory(t *testing.T) {
	results := []types.SearchResult{
		{ID: "1", Category: "method", Similarity: 0.9},
		{ID: "2", Category: "finding", Similarity: 0.8},
		{ID: "3", Category: "method", Similarity: 0.7},
		{ID: "4", Category: "relationship", Similarity: 0.8},
	}

	groups := GroupByCategory(results)
	require.Len(t, groups, 3)
	assert.Equal(t, "method", groups[0].Category)
	assert.Equal(t, 0.9, groups[0].BestSimilarity)
	assert.Equal(t, []string{"1", "3"}, []string{groups[0].Results[0].ID, groups[0].Results[1].ID})
	// equal best similarity falls back to name
	assert.Equal(t, "finding", groups[1].Category)
	assert.Equal(t, "relationship", groups[2].Category)

	assert.Empty(t, GroupByCategory(nil))
}

func TestComputeQueryHash(t *testing.T) {
	base := SearchRequest{Query: "q", TopK: 3}
	assert.Equal(t, computeQueryHash(base), computeQueryHash(base))

	other := base
	other.Category = "finding"
	assert.NotEqual(t, computeQueryHash(base), computeQueryHash(other))

	withFloor := base
	withFloor.MinSimilarity = ptr(0.2)
	assert.NotEqual(t, computeQueryHash(base), computeQueryHash(withFloor))

	nearFloor := base
	nearFloor.MinSimilarity = ptr(0.2000001)
	assert.NotEqual(t, computeQueryHash(withFloor), computeQueryHash(nearFloor))

	// separators inside fields must not shift field boundaries
	pipeQuery := SearchRequest{Query: "x|5", TopK: 3}
	pipeCategory := SearchRequest{Query: "x", TopK: 5, Category: "3|"}
	assert.NotEqual(t, computeQueryHash(pipeQuery), computeQueryHash(pipeCategory))
}
