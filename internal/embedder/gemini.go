package embedder

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"

	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/pkg/types"
)

// EmbeddingGenerator is the part of gollem.LLMClient the Gemini provider uses
type EmbeddingGenerator interface {
	GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

// GeminiProvider implements Embedder using Gemini on Vertex AI through gollem
type GeminiProvider struct {
	client    EmbeddingGenerator
	dimension int
}

// NewGeminiProvider creates a Gemini client for the given project and location
func NewGeminiProvider(ctx context.Context, projectID, location string, dimension int) (*GeminiProvider, error) {
	if projectID == "" {
		return nil, goerr.Wrap(types.ErrConfiguration, "gemini project ID not set")
	}

	client, err := gemini.New(ctx, projectID, location)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrConfiguration, err), "failed to create Gemini client",
			goerr.V("project", projectID), goerr.V("location", location))
	}

	return NewGeminiProviderWithClient(client, dimension), nil
}

// NewGeminiProviderWithClient wraps an existing client
func NewGeminiProviderWithClient(client EmbeddingGenerator, dimension int) *GeminiProvider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &GeminiProvider{client: client, dimension: dimension}
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedOne(ctx, g, req)
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	vectors, err := g.client.GenerateEmbedding(ctx, g.dimension, req.Texts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// gollem surfaces quota and network problems as plain errors
		if retry.IsRateLimit(err) {
			return nil, goerr.Wrap(errors.Join(types.ErrTransient, err), "gemini rate limited")
		}
		return nil, goerr.Wrap(err, "gemini embedding call failed", goerr.V("texts", len(req.Texts)))
	}

	embeddings := make([]*Embedding, len(vectors))
	for i, v := range vectors {
		vec := make([]float32, len(v))
		for j, x := range v {
			vec[j] = float32(x)
		}
		embeddings[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  ProviderGemini,
			Model:     DefaultGeminiModel,
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderGemini,
		Model:      DefaultGeminiModel,
	}, nil
}

func (g *GeminiProvider) Dimension() int {
	return g.dimension
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return DefaultGeminiModel
}

func (g *GeminiProvider) Close() error {
	return nil
}
