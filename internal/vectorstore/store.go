// Package vectorstore is the document store used by ingestion and queries.
// It pairs every inserted document with a fingerprint from the embedder
// adapter and answers nearest-neighbour queries by cosine similarity.
package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/internal/storage"
	"github.com/dshills/paperdex/pkg/types"
)

// Fingerprinter produces one unit-length vector per text. *embedder.Adapter
// implements it.
type Fingerprinter interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Provider() string
	Model() string
}

// NewDocument is one document to insert
type NewDocument struct {
	Content    string
	Source     string
	Category   string
	Annotation string
}

// Store persists documents with their fingerprints
type Store struct {
	storage storage.Storage
	fp      Fingerprinter
	logger  *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Store. It fails with types.ErrConfiguration when the
// fingerprinter's width differs from vectors already stored.
func New(ctx context.Context, st storage.Storage, fp Fingerprinter, opts ...Option) (*Store, error) {
	s := &Store{
		storage: st,
		fp:      fp,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	status, err := st.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status.Dimension != 0 && status.Dimension != fp.Dimension() {
		return nil, goerr.Wrap(types.ErrConfiguration, "store holds fingerprints of a different width",
			goerr.V("store", status.Dimension), goerr.V("embedder", fp.Dimension()))
	}

	return s, nil
}

// Insert fingerprints content and stores it, returning the new document id.
// Fingerprint errors pass through unchanged; write errors match
// types.ErrStoreFailure.
func (s *Store) Insert(ctx context.Context, content, source, category, annotation string) (string, error) {
	ids, err := s.InsertBatch(ctx, []NewDocument{{
		Content:    content,
		Source:     source,
		Category:   category,
		Annotation: annotation,
	}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertBatch fingerprints all documents in one call and then stores them in
// order, one transaction each. Nothing is written when fingerprinting fails.
// On a write failure the documents before it stay committed.
func (s *Store) InsertBatch(ctx context.Context, docs []NewDocument) ([]string, error) {
	if len(docs) == 0 {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "no documents to insert")
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if err := validate(d); err != nil {
			return nil, goerr.Wrap(errors.Join(types.ErrInvalidParameter, err), "invalid document",
				goerr.V("index", i), goerr.V("source", d.Source))
		}
		texts[i] = d.Content
	}

	vectors, err := s.fp.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for i, d := range docs {
		doc := &types.Document{
			ID:         uuid.NewString(),
			Content:    d.Content,
			Source:     d.Source,
			Category:   d.Category,
			Annotation: d.Annotation,
		}
		fp := &storage.Fingerprint{
			Vector:   vectors[i],
			Provider: s.fp.Provider(),
			Model:    s.fp.Model(),
		}
		if err := s.storage.InsertDocument(ctx, doc, fp); err != nil {
			if !errors.Is(err, types.ErrStoreFailure) && !errors.Is(err, types.ErrInvalidParameter) {
				err = errors.Join(types.ErrStoreFailure, err)
			}
			return ids, goerr.Wrap(err, "failed to store document",
				goerr.V("index", i), goerr.V("source", d.Source))
		}
		ids = append(ids, doc.ID)
	}

	s.logger.Debug("documents stored",
		slog.Int("count", len(ids)),
		slog.String("source", docs[0].Source))
	return ids, nil
}

func validate(d NewDocument) error {
	switch {
	case strings.TrimSpace(d.Content) == "":
		return types.ErrEmptyContent
	case d.Source == "":
		return types.ErrMissingSource
	case d.Category == "":
		return types.ErrMissingCategory
	}
	return nil
}

// Search returns up to topK documents most similar to queryText, best first.
// Equal similarities keep insertion order. An empty category matches all.
func (s *Store) Search(ctx context.Context, queryText string, topK int, category string) ([]types.SearchResult, error) {
	return s.SearchWithFilters(ctx, queryText, topK, &storage.SearchFilters{Category: category})
}

// SearchWithFilters is Search with a similarity floor
func (s *Store) SearchWithFilters(ctx context.Context, queryText string, topK int, filters *storage.SearchFilters) ([]types.SearchResult, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "query text is empty")
	}
	if topK <= 0 {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "topK must be positive", goerr.V("topK", topK))
	}

	vector, err := s.fp.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}

	hits, err := s.storage.SearchVector(ctx, vector[0], topK, filters)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = types.SearchResult{
			ID:         h.Document.ID,
			Rank:       i + 1,
			Similarity: h.Similarity,
			Content:    h.Document.Content,
			Source:     h.Document.Source,
			Category:   h.Document.Category,
			Annotation: h.Document.Annotation,
		}
	}
	return results, nil
}

// DocumentCount returns the number of stored documents
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	return s.storage.DocumentCount(ctx)
}

// FingerprintCount returns the number of stored fingerprints. It always
// equals DocumentCount.
func (s *Store) FingerprintCount(ctx context.Context) (int, error) {
	return s.storage.FingerprintCount(ctx)
}

// Status returns store statistics
func (s *Store) Status(ctx context.Context) (*storage.Status, error) {
	return s.storage.GetStatus(ctx)
}

// Dimension returns the fingerprint width
func (s *Store) Dimension() int {
	return s.fp.Dimension()
}
