package extractor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"

	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/internal/throttle"
	"github.com/dshills/paperdex/pkg/types"
)

// Document is the text of one source handed to the extractor
type Document struct {
	Name string
	Path string
	Text string
}

// Extractor turns a document into a structured JSON summary
type Extractor interface {
	Extract(ctx context.Context, doc Document, prompt string) (string, error)
}

// LLMExtractor runs extraction prompts through a gollem LLM client
type LLMExtractor struct {
	client       gollem.LLMClient
	systemPrompt string
	throttle     *throttle.Throttle
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Option configures an LLMExtractor
type Option func(*LLMExtractor)

// WithThrottle gates model calls through t
func WithThrottle(t *throttle.Throttle) Option {
	return func(e *LLMExtractor) {
		if t != nil {
			e.throttle = t
		}
	}
}

// WithMetrics records call latency and outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *LLMExtractor) { e.metrics = m }
}

// WithLogger sets the extractor's logger
func WithLogger(l *slog.Logger) Option {
	return func(e *LLMExtractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSystemPrompt replaces SystemPrompt
func WithSystemPrompt(p string) Option {
	return func(e *LLMExtractor) { e.systemPrompt = p }
}

// New creates an LLMExtractor
func New(client gollem.LLMClient, opts ...Option) *LLMExtractor {
	e := &LLMExtractor{
		client:       client,
		systemPrompt: SystemPrompt,
		throttle:     throttle.Unlimited(),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract sends prompt and the document text to the model and returns the
// cleaned, validated JSON response.
//
// An empty or invalid response fails with types.ErrMalformedOutput. Model
// errors are transient; a rate-limit signal also pauses the shared throttle.
func (e *LLMExtractor) Extract(ctx context.Context, doc Document, prompt string) (string, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return "", goerr.Wrap(types.ErrInvalidParameter, "document has no text", goerr.V("source", doc.Name))
	}
	if strings.TrimSpace(prompt) == "" {
		return "", goerr.Wrap(types.ErrInvalidParameter, "prompt is empty", goerr.V("source", doc.Name))
	}

	release, err := e.throttle.Acquire(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "waiting for extraction slot")
	}
	start := time.Now()
	raw, err := e.generate(ctx, prompt+"\n\n"+doc.Text)
	release()
	e.metrics.ObserveCall("extract", start, err)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		if retry.IsRateLimit(err) {
			e.throttle.RecordRateLimit(0)
		}
		e.logger.Warn("extraction call failed",
			slog.String("source", doc.Name),
			slog.Any("error", err))
		return "", goerr.Wrap(errors.Join(types.ErrTransient, err), "extraction call failed",
			goerr.V("source", doc.Name))
	}

	content := CleanResponse(raw)
	if content == "" {
		return "", goerr.Wrap(types.ErrMalformedOutput, "model returned an empty response",
			goerr.V("source", doc.Name))
	}
	if err := ValidateExtraction(content); err != nil {
		e.logger.Debug("extraction rejected",
			slog.String("source", doc.Name),
			slog.Any("error", err))
		return "", goerr.Wrap(err, "invalid extraction", goerr.V("source", doc.Name))
	}

	e.logger.Debug("extraction complete",
		slog.String("source", doc.Name),
		slog.Int("bytes", len(content)),
		slog.Duration("elapsed", time.Since(start)))
	return content, nil
}

func (e *LLMExtractor) generate(ctx context.Context, input string) (string, error) {
	session, err := e.client.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionSystemPrompt(e.systemPrompt),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(input))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", nil
	}
	return strings.Join(resp.Texts, ""), nil
}
