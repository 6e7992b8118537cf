package searcher

import (
	"cmp"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/internal/storage"
	"github.com/dshills/paperdex/pkg/types"
)

// Request limits
const (
	DefaultTopK      = 3
	MaxTopK          = 100
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
)

// Store is the part of the vector store the searcher needs
type Store interface {
	SearchWithFilters(ctx context.Context, queryText string, topK int, filters *storage.SearchFilters) ([]types.SearchResult, error)
	DocumentCount(ctx context.Context) (int, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query         string
	TopK          int      // Results to return (default 3, max 100)
	Category      string   // Empty matches every category
	MinSimilarity *float64 // Optional floor in [-1, 1]
	UseCache      bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	Query        string
	Category     string
	Duration     time.Duration
	CacheHit     bool
}

// CategoryGroup holds the results of one category
type CategoryGroup struct {
	Category       string
	BestSimilarity float64
	Results        []types.SearchResult
}

// cacheEntry is a cached response valid while the store holds docCount
// documents and before expiresAt
type cacheEntry struct {
	response  *SearchResponse
	docCount  int
	expiresAt time.Time
}

// Searcher ranks stored documents against query text
type Searcher struct {
	store   Store
	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Searcher
type Option func(*Searcher)

// WithCacheTTL sets how long cached responses stay valid
func WithCacheTTL(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMetrics counts queries and cache hits
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// WithLogger sets the searcher's logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearcher creates a Searcher with an LRU response cache of cacheSize
// entries (DefaultCacheSize when cacheSize <= 0)
func NewSearcher(store Store, cacheSize int, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, goerr.Wrap(types.ErrConfiguration, "searcher requires a store")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LRU cache", goerr.V("size", cacheSize))
	}

	s := &Searcher{
		store:  store,
		cache:  cache,
		ttl:    DefaultCacheTTL,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search embeds the query and returns the best matches in the store's
// deterministic order, dropping any below MinSimilarity.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	var docCount int
	if req.UseCache {
		n, err := s.store.DocumentCount(ctx)
		if err != nil {
			return nil, err
		}
		docCount = n
		if cached := s.checkCache(req, docCount); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			s.metrics.Query(true)
			return cached, nil
		}
	}

	filters := &storage.SearchFilters{Category: req.Category}
	if req.MinSimilarity != nil {
		filters.MinSimilarity = *req.MinSimilarity
		filters.HasMinimum = true
	}

	results, err := s.store.SearchWithFilters(ctx, req.Query, req.TopK, filters)
	if err != nil {
		return nil, goerr.Wrap(err, "search failed", goerr.V("topK", req.TopK), goerr.V("category", req.Category))
	}
	Rank(results)

	resp := &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Query:        req.Query,
		Category:     req.Category,
		Duration:     time.Since(start),
	}
	s.metrics.Query(false)

	if req.UseCache {
		s.storeInCache(req, resp, docCount)
	}

	s.logger.Debug("search complete",
		slog.Int("results", resp.TotalResults),
		slog.String("category", req.Category),
		slog.Duration("duration", resp.Duration))
	return resp, nil
}

// validateRequest fills defaults and rejects malformed requests
func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return goerr.Wrap(types.ErrInvalidParameter, "query cannot be empty")
	}

	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK < 1 || req.TopK > MaxTopK {
		return goerr.Wrap(types.ErrInvalidParameter, "top_k out of range",
			goerr.V("topK", req.TopK), goerr.V("max", MaxTopK))
	}

	if m := req.MinSimilarity; m != nil && (math.IsNaN(*m) || *m < -1 || *m > 1) {
		return goerr.Wrap(types.ErrInvalidParameter, "min similarity must be within [-1, 1]",
			goerr.V("min_similarity", *m))
	}
	return nil
}

// Rank assigns 1-based ranks in slice order
func Rank(results []types.SearchResult) {
	for i := range results {
		results[i].Rank = i + 1
	}
}

// GroupByCategory groups results by category. Groups are ordered by their
// best similarity, then by name; results keep their relative order.
func GroupByCategory(results []types.SearchResult) []CategoryGroup {
	index := make(map[string]int)
	var groups []CategoryGroup
	for _, r := range results {
		i, ok := index[r.Category]
		if !ok {
			i = len(groups)
			index[r.Category] = i
			groups = append(groups, CategoryGroup{Category: r.Category, BestSimilarity: r.Similarity})
		}
		g := &groups[i]
		g.Results = append(g.Results, r)
		g.BestSimilarity = max(g.BestSimilarity, r.Similarity)
	}

	slices.SortStableFunc(groups, func(a, b CategoryGroup) int {
		if c := cmp.Compare(b.BestSimilarity, a.BestSimilarity); c != 0 {
			return c
		}
		return strings.Compare(a.Category, b.Category)
	})
	return groups
}

// checkCache returns a copy of a cached response that is still valid
func (s *Searcher) checkCache(req SearchRequest, docCount int) *SearchResponse {
	hash := computeQueryHash(req)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if entry.docCount != docCount || time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// storeInCache saves a copy of the response
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse, docCount int) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		docCount:  docCount,
		expiresAt: time.Now().Add(s.ttl),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = slices.Clone(src.Results)
	return &dst
}

// computeQueryHash computes a unique hash for a search request. String
// fields are length-prefixed and the similarity floor is kept exact, so
// distinct requests never share a key.
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%d:%s|%d|%d:%s", len(req.Query), req.Query, req.TopK, len(req.Category), req.Category)
	if req.MinSimilarity != nil {
		data.WriteString("|min:")
		data.WriteString(strconv.FormatFloat(*req.MinSimilarity, 'g', -1, 64))
	}
	return sha256.Sum256([]byte(data.String()))
}
