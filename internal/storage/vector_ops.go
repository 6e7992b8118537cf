package storage

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"slices"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// searchVector ranks every stored fingerprint against queryVector by cosine
// similarity. Ties keep insertion order (seq ascending).
func searchVector(ctx context.Context, db querier, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if len(queryVector) == 0 {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "query vector is empty")
	}
	if limit <= 0 {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "limit must be positive", goerr.V("limit", limit))
	}

	query := `
		SELECT d.seq, d.id, f.vector
		FROM documents d
		INNER JOIN fingerprints f ON f.document_id = d.id
	`
	var args []interface{}
	query, args = applyVectorFilters(query, args, filters)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to query fingerprints")
	}

	candidates, err := computeSimilarityScores(rows, queryVector, filters)
	_ = rows.Close()
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to scan fingerprints")
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]VectorResult, 0, len(candidates))
	for _, c := range candidates {
		doc, err := getDocumentWithQuerier(ctx, db, c.id)
		if err != nil {
			return nil, err
		}
		results = append(results, VectorResult{Document: *doc, Similarity: c.score})
	}
	return results, nil
}

// applyVectorFilters adds WHERE clause filters for vector search
func applyVectorFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.Category != "" {
		query += " WHERE d.category = ?"
		args = append(args, filters.Category)
	}

	return query, args
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *SearchFilters) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var c candidate
		var vectorBlob []byte
		if err := rows.Scan(&c.seq, &c.id, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		c.score = cosineSimilarity(queryVector, vector)

		if filters != nil && filters.HasMinimum && c.score < filters.MinSimilarity {
			continue
		}

		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors,
// clamped to [-1, 1]
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return max(-1, min(1, sim))
}

// candidate represents a document with its similarity score
type candidate struct {
	seq   int64
	id    string
	score float64
}

// sortCandidates orders by score descending, then by insertion order
func sortCandidates(candidates []candidate) {
	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
