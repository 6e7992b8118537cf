package types

import "time"

// Document is a retrievable unit of text.
type Document struct {
	ID         string
	Seq        int64 // Insertion order, assigned by the store
	Content    string
	Source     string
	Category   string
	Annotation string // Optional provenance such as the producing prompt
	CreatedAt  time.Time
}

// Validate checks the fields a caller must supply before insert.
func (d *Document) Validate() error {
	if d.Content == "" {
		return ErrEmptyContent
	}
	if d.Source == "" {
		return ErrMissingSource
	}
	if d.Category == "" {
		return ErrMissingCategory
	}
	return nil
}

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	ID         string
	Rank       int // Position in result set (1-based)
	Similarity float64
	Content    string
	Source     string
	Category   string
	Annotation string
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ID == "" {
		return ErrInvalidDocumentID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Similarity < -1 || sr.Similarity > 1 {
		return ErrInvalidSimilarity
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
