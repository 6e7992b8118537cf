package embedder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/internal/throttle"
	"github.com/dshills/paperdex/pkg/types"
)

// Adapter is the fingerprint adapter. It wraps an Embedder, returns exactly
// one unit-length vector of the configured dimension per input text, and
// gates provider calls through a shared Throttle.
type Adapter struct {
	embedder  Embedder
	dimension int
	batchSize int
	cache     *Cache
	throttle  *throttle.Throttle
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithCache enables the LRU embedding cache
func WithCache(c *Cache) AdapterOption {
	return func(a *Adapter) { a.cache = c }
}

// WithThrottle gates provider calls through t
func WithThrottle(t *throttle.Throttle) AdapterOption {
	return func(a *Adapter) { a.throttle = t }
}

// WithDimension overrides the expected vector width
func WithDimension(d int) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.dimension = d
		}
	}
}

// WithBatchSize caps the number of texts sent per provider call
func WithBatchSize(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = min(n, MaxBatchSize)
		}
	}
}

// WithMetrics records call latency and outcomes
func WithMetrics(m *metrics.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// WithLogger sets the adapter's logger
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter wraps e. The expected dimension defaults to e.Dimension().
func NewAdapter(e Embedder, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		embedder:  e,
		dimension: e.Dimension(),
		batchSize: DefaultBatchSize,
		throttle:  throttle.Unlimited(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Embed returns one normalized vector per text, in input order.
//
// Capability errors and responses of the wrong shape fail with
// types.ErrEmbeddingFailure. A vector that is all zeros fails with
// types.ErrZeroVector, which is not worth retrying.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: texts}); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if a.cache != nil {
			if emb, ok := a.cache.Get(ComputeHash(text)); ok {
				vectors[i] = emb.Vector
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += a.batchSize {
		end := min(start+a.batchSize, len(missing))
		idx := missing[start:end]

		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		got, err := a.call(ctx, batch)
		if err != nil {
			return nil, err
		}

		for j, i := range idx {
			vectors[i] = got[j]
			if a.cache != nil {
				a.cache.Set(ComputeHash(texts[i]), &Embedding{
					Vector:    got[j],
					Dimension: a.dimension,
					Provider:  a.embedder.Provider(),
					Model:     a.embedder.Model(),
					Hash:      ComputeHash(texts[i]),
				})
			}
		}
	}

	return vectors, nil
}

// EmbedOne embeds a single text
func (a *Adapter) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// call sends one batch to the provider and validates the response
func (a *Adapter) call(ctx context.Context, batch []string) ([][]float32, error) {
	release, err := a.throttle.Acquire(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "waiting for embedding slot")
	}
	start := time.Now()
	resp, err := a.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: batch})
	release()
	a.metrics.ObserveCall("embed", start, err)

	if err != nil {
		if errors.Is(err, types.ErrInvalidParameter) || errors.Is(err, types.ErrConfiguration) ||
			errors.Is(err, context.Canceled) {
			return nil, err
		}
		if retry.IsRateLimit(err) {
			a.throttle.RecordRateLimit(0)
		}
		a.logger.Warn("embedding provider call failed",
			slog.String("provider", a.embedder.Provider()),
			slog.Int("texts", len(batch)),
			slog.Any("error", err))
		return nil, goerr.Wrap(errors.Join(types.ErrEmbeddingFailure, err), "embedding provider call failed",
			goerr.V("provider", a.embedder.Provider()))
	}

	if len(resp.Embeddings) != len(batch) {
		return nil, goerr.Wrap(errors.Join(types.ErrEmbeddingFailure, types.ErrMalformedOutput),
			"provider returned wrong number of embeddings",
			goerr.V("want", len(batch)), goerr.V("got", len(resp.Embeddings)))
	}

	vectors := make([][]float32, len(batch))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Vector) != a.dimension {
			got := 0
			if emb != nil {
				got = len(emb.Vector)
			}
			return nil, goerr.Wrap(errors.Join(types.ErrEmbeddingFailure, types.ErrMalformedOutput),
				"provider returned vector of wrong dimension",
				goerr.V("want", a.dimension), goerr.V("got", got), goerr.V("index", i))
		}

		normalized, ok := NormalizeVector(emb.Vector)
		if !ok {
			return nil, goerr.Wrap(types.ErrZeroVector, "cannot normalize embedding",
				goerr.V("index", i), goerr.V("text_hash", ComputeHash(batch[i])))
		}
		vectors[i] = normalized
	}

	return vectors, nil
}

// Dimension returns the width of every vector Embed returns
func (a *Adapter) Dimension() int {
	return a.dimension
}

// Provider returns the wrapped provider's name
func (a *Adapter) Provider() string {
	return a.embedder.Provider()
}

// Model returns the wrapped provider's model
func (a *Adapter) Model() string {
	return a.embedder.Model()
}

// Close releases the wrapped provider
func (a *Adapter) Close() error {
	return a.embedder.Close()
}
