package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperdex/internal/embedder"
	"github.com/dshills/paperdex/internal/ledger"
	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/internal/storage"
	"github.com/dshills/paperdex/internal/vectorstore"
	"github.com/dshills/paperdex/pkg/types"
)

// testEnv wires a real store and ledger over an in-memory database
type testEnv struct {
	db     *storage.SQLiteStorage
	store  *vectorstore.Store
	ledger *ledger.Ledger
	dir    string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := vectorstore.New(context.Background(), db, embedder.NewAdapter(embedder.NewLocalProvider(64)))
	require.NoError(t, err)

	return &testEnv{db: db, store: store, ledger: ledger.New(db), dir: t.TempDir()}
}

func (e *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(e.dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *testEnv) sources(t *testing.T) []source.Source {
	t.Helper()
	sources, err := source.Discover(e.dir, source.Options{})
	require.NoError(t, err)
	return sources
}

func (e *testEnv) docCount(t *testing.T) int {
	t.Helper()
	n, err := e.store.DocumentCount(context.Background())
	require.NoError(t, err)
	return n
}

func fastPolicy(attempts int) retry.Policy {
	return retry.NewBackoff(retry.Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  1,
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchPause = 0
	cfg.MinSourceBytes = 0
	cfg.EmbedPolicy = fastPolicy(3)
	cfg.ExtractPolicy = fastPolicy(3)
	return cfg
}

// flakyWriter counts InsertBatch calls per source and can inject failures
type flakyWriter struct {
	next DocumentWriter
	fail func(source string, call int) error
	hook func()

	mu    sync.Mutex
	calls map[string]int
}

func newFlakyWriter(next DocumentWriter, fail func(string, int) error) *flakyWriter {
	return &flakyWriter{next: next, fail: fail, calls: make(map[string]int)}
}

func (w *flakyWriter) InsertBatch(ctx context.Context, docs []vectorstore.NewDocument) ([]string, error) {
	src := docs[0].Source
	w.mu.Lock()
	w.calls[src]++
	n := w.calls[src]
	w.mu.Unlock()

	if w.hook != nil {
		w.hook()
	}
	if w.fail != nil {
		if err := w.fail(src, n); err != nil {
			return nil, err
		}
	}
	return w.next.InsertBatch(ctx, docs)
}

func (w *flakyWriter) count(src string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[src]
}

// readerFunc adapts a function to source.Reader
type readerFunc func(ctx context.Context, src source.Source) (string, error)

func (f readerFunc) Read(ctx context.Context, src source.Source) (string, error) {
	return f(ctx, src)
}

func newPipeline(t *testing.T, env *testEnv, w DocumentWriter, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	if w == nil {
		w = env.store
	}
	opts = append([]Option{WithConfig(cfg)}, opts...)
	p, err := New(w, env.ledger, source.PlainReader{}, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestNew_NormalizesConfig(t *testing.T) {
	env := setupEnv(t)
	p := newPipeline(t, env, nil, Config{BatchPause: -time.Second})

	cfg := p.Config()
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultChunkBatchSize, cfg.ChunkBatchSize)
	assert.Equal(t, int64(DefaultMaxSourceBytes), cfg.MaxSourceBytes)
	assert.Zero(t, cfg.BatchPause)
	assert.NotEmpty(t, cfg.Prompts)
	assert.NotNil(t, cfg.EmbedPolicy)
	assert.NotNil(t, cfg.ExtractPolicy)
}

func TestIngest_StoresEveryChunk(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "Rivers flooded. Soils eroded! Was it the rain?")
	env.write(t, "b.md", "Wells ran dry.")
	ctx := context.Background()

	m := metrics.New()
	p := newPipeline(t, env, nil, testConfig(), WithMetrics(m))

	stats, err := p.Ingest(ctx, env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 4, stats.ChunksInserted)
	assert.False(t, stats.HasFailures())
	assert.Equal(t, 2, stats.Total())
	assert.Equal(t, 4, env.docCount(t))

	fps, err := env.store.FingerprintCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, fps)

	n, ok, err := env.ledger.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	results, err := env.store.Search(ctx, "Soils eroded!", 1, types.DefaultCategory)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.txt", results[0].Source)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SourcesTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ChunksInserted))
}

func TestIngest_PreservesChunkOrderAcrossBatches(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "One. Two. Three. Four. Five.")

	var mu sync.Mutex
	var seen []string
	w := newFlakyWriter(env.store, nil)
	cfg := testConfig()
	cfg.ChunkBatchSize = 2
	p := newPipeline(t, env, &recordingWriter{next: w, mu: &mu, seen: &seen}, cfg)

	stats, err := p.Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, []string{"One.", "Two.", "Three.", "Four.", "Five."}, seen)
	assert.Equal(t, 3, w.count("a.txt"))
}

// recordingWriter remembers inserted content in order
type recordingWriter struct {
	next DocumentWriter
	mu   *sync.Mutex
	seen *[]string
}

func (r *recordingWriter) InsertBatch(ctx context.Context, docs []vectorstore.NewDocument) ([]string, error) {
	r.mu.Lock()
	for _, d := range docs {
		*r.seen = append(*r.seen, d.Content)
	}
	r.mu.Unlock()
	return r.next.InsertBatch(ctx, docs)
}

func TestIngest_SkipsCompletedSources(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "First. Second.")
	ctx := context.Background()
	p := newPipeline(t, env, nil, testConfig())

	_, err := p.Ingest(ctx, env.sources(t))
	require.NoError(t, err)
	require.Equal(t, 2, env.docCount(t))

	stats, err := p.Ingest(ctx, env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.ChunksInserted)
	assert.Equal(t, 2, env.docCount(t))
}

func TestIngest_ResumesFromLedger(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "One. Two. Three. Four. Five.")
	ctx := context.Background()
	require.NoError(t, env.ledger.Set(ctx, "a.txt", 2))

	p := newPipeline(t, env, nil, testConfig())
	stats, err := p.Ingest(ctx, env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 3, stats.ChunksInserted)
	assert.Equal(t, 5, stats.Sources[0].Units)

	results, err := env.store.Search(ctx, "One.", 5, "")
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "One.", r.Content)
		assert.NotEqual(t, "Two.", r.Content)
	}
}

func TestIngest_ForceReprocesses(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "First. Second.")
	ctx := context.Background()

	_, err := newPipeline(t, env, nil, testConfig()).Ingest(ctx, env.sources(t))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Force = true
	stats, err := newPipeline(t, env, nil, cfg).Ingest(ctx, env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 2, stats.ChunksInserted)
	assert.Equal(t, 4, env.docCount(t))
}

func TestIngest_EmptySourceSucceeds(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "empty.txt", "   \n")
	ctx := context.Background()
	p := newPipeline(t, env, nil, testConfig())

	stats, err := p.Ingest(ctx, env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)

	stats, err = p.Ingest(ctx, env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
}

func TestIngest_RetryExhaustionDoesNotBlockOthers(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "Good one.")
	env.write(t, "bad.txt", "Never embeds.")
	env.write(t, "c.txt", "Good two.")

	w := newFlakyWriter(env.store, func(src string, _ int) error {
		if src == "bad.txt" {
			return errors.Join(types.ErrEmbeddingFailure, errors.New("provider unavailable"))
		}
		return nil
	})
	cfg := testConfig()
	cfg.EmbedPolicy = fastPolicy(4)
	p := newPipeline(t, env, w, cfg)

	stats, err := p.Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.True(t, stats.HasFailures())

	bad := stats.Sources[1]
	assert.Equal(t, "bad.txt", bad.Name)
	assert.Equal(t, StateFailed, bad.State)
	assert.Equal(t, 4, bad.Attempts)
	assert.Equal(t, 4, w.count("bad.txt"))
	assert.ErrorIs(t, bad.Err, types.ErrSourceFailed)
	assert.ErrorIs(t, bad.Err, types.ErrAttemptsExhausted)
	assert.ErrorIs(t, bad.Err, types.ErrEmbeddingFailure)

	_, ok, err := env.ledger.Get(context.Background(), "bad.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, env.docCount(t))
}

func TestIngest_MalformedOutputRetriedThenSucceeds(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "Recovered.")

	w := newFlakyWriter(env.store, func(_ string, call int) error {
		if call == 1 {
			return errors.Join(types.ErrEmbeddingFailure, types.ErrMalformedOutput)
		}
		return nil
	})
	p := newPipeline(t, env, w, testConfig())

	stats, err := p.Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 2, stats.Sources[0].Attempts)
}

func TestIngest_PermanentErrorsNotRetried(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "Disk full.")

	w := newFlakyWriter(env.store, func(string, int) error {
		return errors.Join(types.ErrStoreFailure, errors.New("disk I/O error"))
	})
	p := newPipeline(t, env, w, testConfig())

	stats, err := p.Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, w.count("a.txt"))
	assert.ErrorIs(t, stats.Sources[0].Err, types.ErrStoreFailure)
}

func TestIngest_SourceTooLarge(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", strings.Repeat("x", 64))

	cfg := testConfig()
	cfg.MaxSourceBytes = 16
	stats, err := newPipeline(t, env, nil, cfg).Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.ErrorIs(t, stats.Sources[0].Err, types.ErrInvalidParameter)
}

func TestIngest_ConfigurationErrorStopsRun(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.pdf", "x")
	env.write(t, "b.pdf", "y")

	reader := readerFunc(func(context.Context, source.Source) (string, error) {
		return "", errors.Join(types.ErrConfiguration, errors.New("pdftotext not found"))
	})
	p, err := New(env.store, env.ledger, reader, WithConfig(testConfig()))
	require.NoError(t, err)

	stats, err := p.Ingest(context.Background(), env.sources(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Pending)
}

func TestIngest_CancellationFinishesCurrentBatch(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "One. Two. Three.")
	env.write(t, "b.txt", "Four. Five.")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newFlakyWriter(env.store, nil)
	w.hook = cancel
	cfg := testConfig()
	cfg.ChunkBatchSize = 1
	p := newPipeline(t, env, w, cfg)

	stats, err := p.Ingest(ctx, env.sources(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, stats.Pending)
	assert.Zero(t, stats.Failed)

	// the batch that was in flight when the run was cancelled is complete
	assert.Equal(t, 1, env.docCount(t))
	assert.Equal(t, 1, stats.Sources[0].Units)

	n, ok, err := env.ledger.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	// the next run resumes where the interrupted one stopped
	w.hook = nil
	stats, err = p.Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 5, env.docCount(t))
}

func TestIngest_BatchPause(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "A.")
	env.write(t, "b.txt", "B.")
	env.write(t, "c.txt", "C.")

	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.BatchPause = 100 * time.Millisecond
	p := newPipeline(t, env, nil, cfg)

	start := time.Now()
	stats, err := p.Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestIngest_CancelDuringPauseLeavesRestPending(t *testing.T) {
	env := setupEnv(t)
	env.write(t, "a.txt", "A.")
	env.write(t, "b.txt", "B.")

	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.BatchPause = time.Minute
	p := newPipeline(t, env, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	stats, err := p.Ingest(ctx, env.sources(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePending, stats.Sources[1].State)
}

func TestIngest_ConcurrentWorkers(t *testing.T) {
	env := setupEnv(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		env.write(t, name, "Sentence for "+name+". Another sentence.")
	}

	cfg := testConfig()
	cfg.Workers = 3
	stats, err := newPipeline(t, env, nil, cfg).Ingest(context.Background(), env.sources(t))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Succeeded)
	assert.Equal(t, 10, env.docCount(t))
}

func TestIngest_RunInProgress(t *testing.T) {
	env := setupEnv(t)
	p := newPipeline(t, env, nil, testConfig())

	require.True(t, p.lock.TryAcquire())
	assert.True(t, p.Running())

	_, err := p.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	p.lock.Release()
	_, err = p.Ingest(context.Background(), nil)
	assert.NoError(t, err)
	assert.False(t, p.Running())
}

func TestRunLock(t *testing.T) {
	var l RunLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "in_flight", StateInFlight.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "skipped", StateSkipped.String())
	assert.True(t, StateSkipped.Terminal())
	assert.False(t, StatePending.Terminal())
}
