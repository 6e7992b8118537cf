package storage

import (
	"context"
	"time"

	"github.com/dshills/paperdex/pkg/types"
)

// Storage defines the interface for persisting documents and their fingerprints
type Storage interface {
	// Document operations
	InsertDocument(ctx context.Context, doc *types.Document, fp *Fingerprint) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	DocumentCount(ctx context.Context) (int, error)
	FingerprintCount(ctx context.Context) (int, error)
	CategoryCounts(ctx context.Context) (map[string]int, error)
	ListSources(ctx context.Context) ([]SourceCount, error)

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)

	// Record operations
	LoadRecord(ctx context.Context, name string) ([]byte, error)
	SaveRecord(ctx context.Context, name string, value []byte) error

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction. Only writes are exposed; reads made
// while a transaction is open would wait on the single connection.
type Tx interface {
	Commit() error
	Rollback() error
	InsertDocument(ctx context.Context, doc *types.Document, fp *Fingerprint) error
	SaveRecord(ctx context.Context, name string, value []byte) error
}

// Fingerprint is the vector stored alongside a document
type Fingerprint struct {
	Vector   []float32
	Provider string
	Model    string
}

// SearchFilters narrows a vector search
type SearchFilters struct {
	Category      string  // Exact category match; empty matches all
	MinSimilarity float64 // Results below this similarity are dropped
	HasMinimum    bool    // MinSimilarity is only applied when set
}

// VectorResult is one hit of a vector search, already joined with its document
type VectorResult struct {
	Document   types.Document
	Similarity float64
}

// SourceCount is the number of documents stored for one source
type SourceCount struct {
	Source    string
	Documents int
}

// Status contains statistics about the store
type Status struct {
	Documents    int
	Fingerprints int
	Categories   map[string]int
	Sources      int
	Dimension    int
	SizeMB       float64
	LastInsertAt time.Time
	Health       HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible bool
	// Consistent is true when every document has exactly one fingerprint
	Consistent bool
}
