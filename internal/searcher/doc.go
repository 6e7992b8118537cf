// Package searcher is the query engine over the vector store.
//
// # Basic Usage
//
//	s, err := searcher.NewSearcher(store, 0)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:    "groundwater recharge after drought",
//	    TopK:     5,
//	    Category: "finding",
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.3f %s\n", r.Rank, r.Similarity, r.Source)
//	}
//
// # Ranking
//
// Results come back in the store's order: descending cosine similarity,
// with ties broken by insertion order. Repeating a query against an
// unchanged store returns the same list.
//
// # Filtering
//
// Category restricts results to one label. MinSimilarity drops anything
// below the floor before the top results are chosen.
//
// # Grouping
//
// GroupByCategory buckets a result list by category for callers that
// present findings, methods and relationships separately.
//
// # Caching
//
// Responses can be cached in an LRU keyed by the request. A cached entry is
// only served while the store's document count is unchanged and its TTL
// (default one hour) has not passed.
package searcher
