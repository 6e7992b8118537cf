package indexer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/paperdex/internal/chunker"
	"github.com/dshills/paperdex/internal/extractor"
	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/internal/vectorstore"
	"github.com/dshills/paperdex/pkg/types"
)

// Default scheduling values
const (
	DefaultWorkers        = 1
	DefaultBatchSize      = 3
	DefaultBatchPause     = 10 * time.Second
	DefaultChunkBatchSize = 16
	DefaultMaxSourceBytes = 5 << 20
	DefaultMinSourceBytes = 1 << 10
)

// DocumentWriter persists documents with their fingerprints
type DocumentWriter interface {
	InsertBatch(ctx context.Context, docs []vectorstore.NewDocument) ([]string, error)
}

// ProgressLedger records how many units of each source are stored
type ProgressLedger interface {
	Get(ctx context.Context, source string) (int, bool, error)
	Set(ctx context.Context, source string, count int) error
	Reset(ctx context.Context, source string) error
}

// Config contains configuration for a pipeline
type Config struct {
	Workers        int           // Concurrent sources (default: 1)
	BatchSize      int           // Sources dispatched between pauses (default: 3)
	BatchPause     time.Duration // Pause after each batch; zero disables it
	ChunkBatchSize int           // Chunks embedded and inserted together (default: 16)
	Force          bool          // Reprocess sources that are already complete

	MaxSourceBytes int64 // Largest accepted source file (default: 5 MiB)
	MinSourceBytes int64 // Smallest source accepted by the extraction path

	OutputDir string             // Batch file directory for the extraction path
	Prompts   []extractor.Prompt // Extraction prompts (default: extractor.DefaultPrompts)

	EmbedPolicy   retry.Policy // Retry policy around embed+insert
	ExtractPolicy retry.Policy // Retry policy around extraction calls
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Workers:        DefaultWorkers,
		BatchSize:      DefaultBatchSize,
		BatchPause:     DefaultBatchPause,
		ChunkBatchSize: DefaultChunkBatchSize,
		MaxSourceBytes: DefaultMaxSourceBytes,
		MinSourceBytes: DefaultMinSourceBytes,
		Prompts:        extractor.DefaultPrompts(),
		EmbedPolicy:    retry.NewBackoff(retry.DefaultConfig()),
		ExtractPolicy:  retry.NewBackoff(ExtractRetryConfig()),
	}
}

// ExtractRetryConfig is the backoff used for extraction calls
func ExtractRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: retry.DefaultMaxAttempts,
		BaseDelay:   30 * time.Second,
		MaxDelay:    5 * time.Minute,
		Multiplier:  2.0,
	}
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	}
	if c.ChunkBatchSize <= 0 {
		c.ChunkBatchSize = DefaultChunkBatchSize
	}
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if c.MinSourceBytes < 0 {
		c.MinSourceBytes = 0
	}
	if len(c.Prompts) == 0 {
		c.Prompts = extractor.DefaultPrompts()
	}
	if c.EmbedPolicy == nil {
		c.EmbedPolicy = retry.NewBackoff(retry.DefaultConfig())
	}
	if c.ExtractPolicy == nil {
		c.ExtractPolicy = retry.NewBackoff(ExtractRetryConfig())
	}
	return c
}

// Pipeline drives sources through reading, segmentation or extraction,
// fingerprinting and storage.
type Pipeline struct {
	store     DocumentWriter
	progress  ProgressLedger
	reader    source.Reader
	chunker   *chunker.Chunker
	extractor extractor.Extractor
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	lock      RunLock
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithChunker sets the segmenter used by Ingest
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.chunker = c
		}
	}
}

// WithExtractor sets the extractor used by Extract
func WithExtractor(e extractor.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithMetrics records source outcomes, inserted chunks and retries
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline's logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Pipeline
func New(store DocumentWriter, progress ProgressLedger, reader source.Reader, opts ...Option) (*Pipeline, error) {
	if store == nil || progress == nil || reader == nil {
		return nil, goerr.Wrap(types.ErrConfiguration, "pipeline requires a store, a ledger and a reader")
	}

	c, err := chunker.New(chunker.DefaultMaxSize, chunker.DefaultOverlap)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:    store,
		progress: progress,
		reader:   reader,
		chunker:  c,
		cfg:      DefaultConfig(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cfg = p.cfg.normalized()
	return p, nil
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Running reports whether a run is in progress
func (p *Pipeline) Running() bool {
	return p.lock.Held()
}

// task processes one source and reports its outcome. Configuration errors
// in the result stop the run.
type task func(ctx context.Context, src source.Source) SourceResult

// skipCheck reports whether a source is already complete before it is
// queued. Skipped sources do not count toward the batch pause.
type skipCheck func(ctx context.Context, src source.Source) bool

// run feeds sources to a fixed pool of workers. The dispatcher pauses after
// every BatchSize queued sources and stops feeding when ctx is cancelled;
// sources never handed out stay pending.
func (p *Pipeline) run(ctx context.Context, kind string, sources []source.Source, work task, done skipCheck) (*Statistics, error) {
	if !p.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer p.lock.Release()

	start := time.Now()
	results := make([]SourceResult, len(sources))
	for i, src := range sources {
		results[i] = SourceResult{Name: src.Name, State: StatePending}
	}

	p.logger.Info("run started",
		slog.String("kind", kind),
		slog.Int("sources", len(sources)),
		slog.Int("workers", p.cfg.Workers),
		slog.Bool("force", p.cfg.Force))

	queue := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	for range p.cfg.Workers {
		g.Go(func() error {
			for i := range queue {
				res := work(gctx, sources[i])
				results[i] = res
				p.report(res)
				if errors.Is(res.Err, types.ErrConfiguration) {
					return res.Err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(queue)
		queued := 0
		for i, src := range sources {
			if gctx.Err() != nil {
				return nil
			}
			if done != nil && done(gctx, src) {
				results[i] = SourceResult{Name: src.Name, State: StateSkipped}
				p.report(results[i])
				continue
			}
			if queued > 0 && queued%p.cfg.BatchSize == 0 && p.cfg.BatchPause > 0 {
				p.logger.Info("pausing between batches", slog.Duration("pause", p.cfg.BatchPause))
				if !sleep(gctx, p.cfg.BatchPause) {
					return nil
				}
			}
			select {
			case <-gctx.Done():
				return nil
			case queue <- i:
				queued++
			}
		}
		return nil
	})

	runErr := g.Wait()
	stats := newStatistics(results, time.Since(start))

	p.logger.Info("run complete",
		slog.String("kind", kind),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("pending", stats.Pending),
		slog.Int("chunks_inserted", stats.ChunksInserted),
		slog.Duration("duration", stats.Duration))

	if runErr != nil {
		return stats, runErr
	}
	if err := ctx.Err(); err != nil {
		return stats, goerr.Wrap(err, "run interrupted", goerr.V("pending", stats.Pending))
	}
	return stats, nil
}

// report logs and counts a finished source
func (p *Pipeline) report(res SourceResult) {
	p.metrics.SourceFinished(res.State.String())
	p.metrics.AddChunks(res.Inserted)

	switch res.State {
	case StateSucceeded:
		p.logger.Info("source succeeded",
			slog.String("source", res.Name),
			slog.Int("units", res.Units),
			slog.Int("inserted", res.Inserted))
	case StateSkipped:
		p.logger.Info("source skipped", slog.String("source", res.Name), slog.Int("units", res.Units))
	case StateFailed:
		p.logger.Error("source failed",
			slog.String("source", res.Name),
			slog.Int("attempts", res.Attempts),
			slog.Any("error", res.Err))
	default:
		p.logger.Warn("source interrupted",
			slog.String("source", res.Name),
			slog.Int("units", res.Units))
	}
}

// observer logs and counts retries for one source
func (p *Pipeline) observer(name, op string) retry.Observer {
	return func(attempt int, err error, d retry.Decision) {
		class := retry.Classify(err)
		p.metrics.Retry(class.String())
		p.logger.Warn("retrying",
			slog.String("source", name),
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("class", class.String()),
			slog.Duration("delay", d.Delay),
			slog.Any("error", err))
	}
}

// fail builds a failed result whose error matches types.ErrSourceFailed
func fail(res SourceResult, err error) SourceResult {
	res.State = StateFailed
	if errors.Is(err, types.ErrConfiguration) {
		res.Err = err
		return res
	}
	res.Err = goerr.Wrap(errors.Join(types.ErrSourceFailed, err), "source failed", goerr.V("source", res.Name))
	return res
}

// interrupted returns a source to pending after cancellation
func interrupted(res SourceResult, err error) SourceResult {
	res.State = StatePending
	res.Err = err
	return res
}

// checkSize enforces the accepted source size range
func (p *Pipeline) checkSize(src source.Source, minBytes int64) error {
	if src.Size > p.cfg.MaxSourceBytes {
		return goerr.Wrap(types.ErrInvalidParameter, "source too large",
			goerr.V("source", src.Name), goerr.V("size", src.Size), goerr.V("max", p.cfg.MaxSourceBytes))
	}
	if src.Size < minBytes {
		return goerr.Wrap(types.ErrInvalidParameter, "source too small",
			goerr.V("source", src.Name), goerr.V("size", src.Size), goerr.V("min", minBytes))
	}
	return nil
}

// record updates the ledger. The ledger is advisory, so failures are logged
// and never fail the source.
func (p *Pipeline) record(ctx context.Context, name string, count int) {
	if err := p.progress.Set(context.WithoutCancel(ctx), name, count); err != nil {
		p.logger.Warn("failed to update progress ledger",
			slog.String("source", name),
			slog.Int("count", count),
			slog.Any("error", err))
	}
}

// insert stores one chunk-batch under the embed retry policy. The write
// itself ignores cancellation so an in-flight batch always completes.
func (p *Pipeline) insert(ctx context.Context, name string, docs []vectorstore.NewDocument) (int, int, error) {
	var inserted int
	_, attempts, err := retry.Do(ctx, p.cfg.EmbedPolicy, func(context.Context) ([]string, error) {
		ids, err := p.store.InsertBatch(context.WithoutCancel(ctx), docs)
		inserted = len(ids)
		return ids, err
	}, p.observer(name, "insert"))
	return inserted, attempts, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
