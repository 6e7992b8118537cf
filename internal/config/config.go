// Package config loads paperdex settings from defaults, an optional YAML
// file, a .env file and PAPERDEX_* environment variables.
package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dshills/paperdex/internal/chunker"
	"github.com/dshills/paperdex/internal/embedder"
	"github.com/dshills/paperdex/internal/indexer"
	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/internal/searcher"
	"github.com/dshills/paperdex/internal/throttle"
	"github.com/dshills/paperdex/pkg/types"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. PAPERDEX_DB_PATH
	EnvPrefix = "PAPERDEX"
	// DefaultConfigName is looked up in the working directory when no file is given
	DefaultConfigName = "paperdex"
	// DefaultDBPath is the store used when none is configured
	DefaultDBPath = "paperdex.db"
	// DefaultOutputDir receives batch files from the extraction path
	DefaultOutputDir = "output"
	// DefaultLLMLocation is the Vertex AI region for extraction
	DefaultLLMLocation = "us-central1"
	// DefaultMetricsAddr is where serve exposes /metrics; empty disables it
	DefaultMetricsAddr = ""

	redacted = "[REDACTED]"
)

// Config is the complete runtime configuration
type Config struct {
	DBPath       string          `mapstructure:"db_path" yaml:"db_path"`
	ProgressFile string          `mapstructure:"progress_file" yaml:"progress_file"`
	Log          Log             `mapstructure:"log" yaml:"log"`
	Embedding    embedder.Config `mapstructure:"embedding" yaml:"embedding"`
	LLM          LLM             `mapstructure:"llm" yaml:"llm"`
	Chunk        Chunk           `mapstructure:"chunk" yaml:"chunk"`
	Ingest       Ingest          `mapstructure:"ingest" yaml:"ingest"`
	Extract      Extract         `mapstructure:"extract" yaml:"extract"`
	Search       Search          `mapstructure:"search" yaml:"search"`
	Metrics      Metrics         `mapstructure:"metrics" yaml:"metrics"`
}

// Log selects log level and format
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// LLM configures the Gemini model used for extraction
type LLM struct {
	Project  string   `mapstructure:"project" yaml:"project"`
	Location string   `mapstructure:"location" yaml:"location"`
	Throttle Throttle `mapstructure:"throttle" yaml:"throttle"`
}

// Throttle bounds calls to one external service
type Throttle struct {
	Concurrency       int     `mapstructure:"concurrency" yaml:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// Chunk configures segmentation
type Chunk struct {
	Size    int `mapstructure:"size" yaml:"size"`
	Overlap int `mapstructure:"overlap" yaml:"overlap"`
}

// Ingest configures the pipeline scheduler
type Ingest struct {
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchPause     time.Duration `mapstructure:"batch_pause" yaml:"batch_pause"`
	ChunkBatchSize int           `mapstructure:"chunk_batch_size" yaml:"chunk_batch_size"`
	MaxSourceBytes int64         `mapstructure:"max_source_bytes" yaml:"max_source_bytes"`
	MinSourceBytes int64         `mapstructure:"min_source_bytes" yaml:"min_source_bytes"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Throttle       Throttle      `mapstructure:"throttle" yaml:"throttle"`
}

// Extract configures the extraction path
type Extract struct {
	OutputDir   string `mapstructure:"output_dir" yaml:"output_dir"`
	MaxAttempts int    `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Search configures the query engine
type Search struct {
	TopK      int           `mapstructure:"top_k" yaml:"top_k"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// Metrics configures the Prometheus endpoint
type Metrics struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoadOptions locate the optional files Load reads
type LoadOptions struct {
	// ConfigFile is an explicit YAML file. When empty, paperdex.yaml in the
	// working directory is used if present.
	ConfigFile string
	// EnvFile is an explicit .env file. When empty, .env is loaded if present.
	EnvFile string
}

// Load builds a Config. Later sources override earlier ones: defaults, the
// YAML file, then the environment (including values from the .env file).
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrConfiguration, err), "failed to unmarshal config")
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return goerr.Wrap(errors.Join(types.ErrConfiguration, err), "failed to load .env")
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return goerr.Wrap(errors.Join(types.ErrConfiguration, err), "failed to load env file", goerr.V("path", path))
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return goerr.Wrap(errors.Join(types.ErrConfiguration, err), "failed to read config file", goerr.V("path", path))
		}
		return nil
	}

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return goerr.Wrap(errors.Join(types.ErrConfiguration, err), "failed to read config file")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("progress_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.endpoint", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.dimension", embedder.DefaultDimension)
	v.SetDefault("embedding.gemini_project", "")
	v.SetDefault("embedding.gemini_location", DefaultLLMLocation)
	v.SetDefault("embedding.cache_size", embedder.DefaultCacheSize)
	v.SetDefault("embedding.batch_size", embedder.DefaultBatchSize)

	v.SetDefault("llm.project", "")
	v.SetDefault("llm.location", DefaultLLMLocation)
	v.SetDefault("llm.throttle.concurrency", throttle.DefaultConcurrency)
	v.SetDefault("llm.throttle.requests_per_second", throttle.DefaultRequestsPerSecond)
	v.SetDefault("llm.throttle.burst", throttle.DefaultBurst)

	v.SetDefault("chunk.size", chunker.DefaultMaxSize)
	v.SetDefault("chunk.overlap", chunker.DefaultOverlap)

	v.SetDefault("ingest.workers", indexer.DefaultWorkers)
	v.SetDefault("ingest.batch_size", indexer.DefaultBatchSize)
	v.SetDefault("ingest.batch_pause", indexer.DefaultBatchPause)
	v.SetDefault("ingest.chunk_batch_size", indexer.DefaultChunkBatchSize)
	v.SetDefault("ingest.max_source_bytes", indexer.DefaultMaxSourceBytes)
	v.SetDefault("ingest.min_source_bytes", indexer.DefaultMinSourceBytes)
	v.SetDefault("ingest.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("ingest.throttle.concurrency", throttle.DefaultConcurrency)
	v.SetDefault("ingest.throttle.requests_per_second", throttle.DefaultRequestsPerSecond)
	v.SetDefault("ingest.throttle.burst", throttle.DefaultBurst)

	v.SetDefault("extract.output_dir", DefaultOutputDir)
	v.SetDefault("extract.max_attempts", retry.DefaultMaxAttempts)

	v.SetDefault("search.top_k", searcher.DefaultTopK)
	v.SetDefault("search.cache_size", searcher.DefaultCacheSize)
	v.SetDefault("search.cache_ttl", searcher.DefaultCacheTTL)

	v.SetDefault("metrics.addr", DefaultMetricsAddr)
}

// Validate checks settings every command depends on
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return configError("db_path is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return configError("unknown log level", goerr.V("level", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return configError("unknown log format", goerr.V("format", c.Log.Format))
	}

	if err := c.validateEmbedding(); err != nil {
		return err
	}

	if c.Chunk.Size <= 0 {
		return configError("chunk size must be positive", goerr.V("size", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return configError("chunk overlap must be in [0, size)",
			goerr.V("overlap", c.Chunk.Overlap), goerr.V("size", c.Chunk.Size))
	}

	if c.Ingest.Workers < 1 {
		return configError("ingest workers must be at least 1", goerr.V("workers", c.Ingest.Workers))
	}
	if c.Ingest.BatchSize < 1 {
		return configError("ingest batch size must be at least 1", goerr.V("batch_size", c.Ingest.BatchSize))
	}
	if c.Ingest.BatchPause < 0 {
		return configError("ingest batch pause must not be negative", goerr.V("batch_pause", c.Ingest.BatchPause))
	}
	if c.Ingest.MaxAttempts < 1 || c.Extract.MaxAttempts < 1 {
		return configError("max attempts must be at least 1",
			goerr.V("ingest", c.Ingest.MaxAttempts), goerr.V("extract", c.Extract.MaxAttempts))
	}

	if c.Search.TopK < 1 || c.Search.TopK > searcher.MaxTopK {
		return configError("search top_k must be between 1 and 100", goerr.V("top_k", c.Search.TopK))
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	if c.Embedding.Dimension <= 0 {
		return configError("embedding dimension must be positive", goerr.V("dimension", c.Embedding.Dimension))
	}

	switch provider := embedder.DetectProvider(c.Embedding); provider {
	case embedder.ProviderGemini:
		if c.Embedding.GeminiProject == "" {
			return configError("gemini embedding requires embedding.gemini_project")
		}
	case embedder.ProviderJina, embedder.ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return configError("embedding provider requires embedding.api_key", goerr.V("provider", provider))
		}
	case embedder.ProviderLocal:
	default:
		return configError("unsupported embedding provider", goerr.V("provider", provider))
	}
	return nil
}

// ValidateExtraction checks the settings the extraction path adds
func (c *Config) ValidateExtraction() error {
	if c.LLM.Project == "" {
		return configError("extraction requires llm.project")
	}
	if strings.TrimSpace(c.Extract.OutputDir) == "" {
		return configError("extraction requires extract.output_dir")
	}
	return nil
}

func configError(msg string, values ...goerr.Option) error {
	return goerr.Wrap(types.ErrConfiguration, msg, values...)
}

// ThrottleConfig converts t for the throttle package
func (t Throttle) ThrottleConfig() throttle.Config {
	return throttle.Config{
		Concurrency:       t.Concurrency,
		RequestsPerSecond: t.RequestsPerSecond,
		Burst:             t.Burst,
	}
}

// PipelineConfig converts the ingest settings into a pipeline configuration
func (c *Config) PipelineConfig() indexer.Config {
	cfg := indexer.DefaultConfig()
	cfg.Workers = c.Ingest.Workers
	cfg.BatchSize = c.Ingest.BatchSize
	cfg.BatchPause = c.Ingest.BatchPause
	cfg.ChunkBatchSize = c.Ingest.ChunkBatchSize
	cfg.MaxSourceBytes = c.Ingest.MaxSourceBytes
	cfg.MinSourceBytes = c.Ingest.MinSourceBytes
	cfg.OutputDir = c.Extract.OutputDir

	embed := retry.DefaultConfig()
	embed.MaxAttempts = c.Ingest.MaxAttempts
	cfg.EmbedPolicy = retry.NewBackoff(embed)

	extract := indexer.ExtractRetryConfig()
	extract.MaxAttempts = c.Extract.MaxAttempts
	cfg.ExtractPolicy = retry.NewBackoff(extract)
	return cfg
}

// Redacted returns a copy with secrets replaced
func (c Config) Redacted() Config {
	if c.Embedding.APIKey != "" {
		c.Embedding.APIKey = redacted
	}
	return c
}

// Dump writes the effective configuration as YAML with secrets redacted
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}
	return enc.Close()
}

// LogAttrs returns the settings worth logging at startup
func (c *Config) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("db_path", c.DBPath),
		slog.String("embedding_provider", embedder.DetectProvider(c.Embedding)),
		slog.Int("dimension", c.Embedding.Dimension),
		slog.Int("chunk_size", c.Chunk.Size),
		slog.Int("chunk_overlap", c.Chunk.Overlap),
		slog.Int("workers", c.Ingest.Workers),
	}
}
