// Package types provides shared type definitions for paperdex.
//
// Document is the retrievable unit persisted by the vector store; SearchResult
// is what queries return. The error classes in errors.go drive retry
// decisions in the ingestion pipeline and exit codes in the CLI:
//
//	if errors.Is(err, types.ErrInvalidParameter) {
//	    // caller misuse, surface immediately
//	}
//
// Similarity scores are cosine similarities in [-1, 1]; for normalized
// embeddings of natural text they sit close to [0, 1].
package types
