package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// Provider configuration
const (
	ProviderGemini = "gemini"
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultGeminiModel = "text-embedding-005"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "hashed-terms"

	// DefaultDimension is the fingerprint width of the reference deployment
	DefaultDimension = 1024

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// DefaultCacheSize is the number of embeddings kept in memory
	DefaultCacheSize = 10000

	jinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	openAIEndpoint = "https://api.openai.com/v1/embeddings"
)

// HTTPProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint (Jina AI and OpenAI).
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey string, dimension int) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderJina, jinaEndpoint, apiKey, DefaultJinaModel, dimension)
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, dimension int) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderOpenAI, openAIEndpoint, apiKey, DefaultOpenAIModel, dimension)
}

func newHTTPProvider(name, endpoint, apiKey, model string, dimension int) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, goerr.Wrap(types.ErrConfiguration, "API key not set", goerr.V("provider", name))
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	return &HTTPProvider{
		name:      name,
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// WithEndpoint overrides the API endpoint, e.g. for a proxy or a test server
func (p *HTTPProvider) WithEndpoint(endpoint string) *HTTPProvider {
	p.endpoint = endpoint
	return p
}

// WithModel overrides the model name
func (p *HTTPProvider) WithModel(model string) *HTTPProvider {
	if model != "" {
		p.model = model
	}
	return p
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedOne(ctx, p, req)
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, goerr.Wrap(types.ErrInvalidParameter, ErrBatchTooLarge.Error(),
			goerr.V("max", MaxBatchSize), goerr.V("got", len(req.Texts)))
	}

	embeddings, err := p.callAPI(ctx, req.Texts)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      p.model,
	}, nil
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input":      texts,
		"model":      p.model,
		"dimensions": p.dimension,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, goerr.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, goerr.Wrap(errors.Join(types.ErrTransient, err), "api call", goerr.V("provider", p.name))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, p.name, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrMalformedOutput, err), "decode response",
			goerr.V("provider", p.name))
	}

	embeddings := make([]*Embedding, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, goerr.Wrap(types.ErrMalformedOutput, "embedding index out of range",
				goerr.V("index", data.Index), goerr.V("provider", p.name))
		}
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     apiResp.Model,
		}
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, goerr.Wrap(types.ErrMalformedOutput, "missing embedding in response",
				goerr.V("index", i), goerr.V("provider", p.name))
		}
	}

	return embeddings, nil
}

// classifyStatus maps an HTTP error status to an error class
func classifyStatus(status int, provider, body string) error {
	opts := []goerr.Option{goerr.V("status", status), goerr.V("provider", provider), goerr.V("body", body)}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return goerr.Wrap(types.ErrTransient, "api error", opts...)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return goerr.Wrap(types.ErrConfiguration, "api rejected credentials", opts...)
	default:
		return goerr.Wrap(types.ErrInvalidParameter, "api rejected request", opts...)
	}
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds text offline by hashing its terms into a fixed number
// of buckets. Texts that share words get similar vectors; identical texts
// get identical vectors.
type LocalProvider struct {
	dimension int
}

var termPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewLocalProvider creates a new local embedder
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &LocalProvider{dimension: dimension}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedOne(ctx, l, req)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = &Embedding{
			Vector:    l.vectorize(text),
			Dimension: l.dimension,
			Provider:  ProviderLocal,
			Model:     DefaultLocalModel,
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      DefaultLocalModel,
	}, nil
}

// vectorize hashes each lower-cased term into a signed bucket. Text without
// any term falls back to hashing the whole string so it is never all zero.
func (l *LocalProvider) vectorize(text string) []float32 {
	vector := make([]float32, l.dimension)

	terms := termPattern.FindAllString(strings.ToLower(text), -1)
	if len(terms) == 0 {
		terms = []string{text}
	}

	for _, term := range terms {
		h := sha256.Sum256([]byte(term))
		bucket := binary.LittleEndian.Uint64(h[:8]) % uint64(l.dimension)
		sign := float32(1)
		if h[8]&1 == 1 {
			sign = -1
		}
		vector[bucket] += sign
	}
	return vector
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return DefaultLocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector returns v scaled to unit length. The second result is
// false when v is all zeros and cannot be normalized.
func NormalizeVector(v []float32) ([]float32, bool) {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v, false
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result, true
}
