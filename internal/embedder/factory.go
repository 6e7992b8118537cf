package embedder

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// Config selects and configures an embedding provider
type Config struct {
	Provider       string `mapstructure:"provider" yaml:"provider"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key" masq:"secret"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string `mapstructure:"model" yaml:"model"`
	Dimension      int    `mapstructure:"dimension" yaml:"dimension"`
	GeminiProject  string `mapstructure:"gemini_project" yaml:"gemini_project"`
	GeminiLocation string `mapstructure:"gemini_location" yaml:"gemini_location"`
	CacheSize      int    `mapstructure:"cache_size" yaml:"cache_size"`
	BatchSize      int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// New creates the embedder named by cfg.Provider. An empty provider selects
// Gemini when a project is configured and the local embedder otherwise.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	provider := DetectProvider(cfg)

	switch provider {
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.GeminiProject, cfg.GeminiLocation, cfg.Dimension)

	case ProviderJina, ProviderOpenAI:
		var (
			p   *HTTPProvider
			err error
		)
		if provider == ProviderJina {
			p, err = NewJinaProvider(cfg.APIKey, cfg.Dimension)
		} else {
			p, err = NewOpenAIProvider(cfg.APIKey, cfg.Dimension)
		}
		if err != nil {
			return nil, err
		}
		if cfg.Endpoint != "" {
			p.WithEndpoint(cfg.Endpoint)
		}
		return p.WithModel(cfg.Model), nil

	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension), nil

	default:
		return nil, goerr.Wrap(types.ErrConfiguration, ErrUnsupportedProvider.Error(),
			goerr.V("provider", cfg.Provider))
	}
}

// DetectProvider returns the provider New would use for cfg
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if cfg.GeminiProject != "" {
		return ProviderGemini
	}
	return ProviderLocal
}
