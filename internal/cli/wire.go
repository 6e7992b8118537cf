package cli

import (
	"context"
	"errors"
	"os"
	"slices"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/internal/chunker"
	"github.com/dshills/paperdex/internal/embedder"
	"github.com/dshills/paperdex/internal/extractor"
	"github.com/dshills/paperdex/internal/indexer"
	"github.com/dshills/paperdex/internal/ledger"
	"github.com/dshills/paperdex/internal/searcher"
	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/internal/storage"
	"github.com/dshills/paperdex/internal/throttle"
	"github.com/dshills/paperdex/internal/vectorstore"
	"github.com/dshills/paperdex/pkg/types"
)

// components are the long-lived objects a command works with
type components struct {
	db       *storage.SQLiteStorage
	adapter  *embedder.Adapter
	store    *vectorstore.Store
	progress *ledger.Ledger
}

func (c *components) Close() {
	if c.adapter != nil {
		_ = c.adapter.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// openStorage opens the SQLite store without an embedder
func (a *app) openStorage() (*storage.SQLiteStorage, error) {
	return storage.NewSQLiteStorage(a.cfg.DBPath)
}

// open wires storage, the fingerprint adapter, the vector store and the
// progress ledger from the loaded configuration
func (a *app) open(ctx context.Context) (*components, error) {
	db, err := a.openStorage()
	if err != nil {
		return nil, err
	}
	c := &components{db: db}

	emb, err := embedder.New(ctx, a.cfg.Embedding)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.adapter = embedder.NewAdapter(emb,
		embedder.WithCache(embedder.NewCache(a.cfg.Embedding.CacheSize)),
		embedder.WithThrottle(throttle.New(a.cfg.Ingest.Throttle.ThrottleConfig())),
		embedder.WithDimension(a.cfg.Embedding.Dimension),
		embedder.WithBatchSize(a.cfg.Embedding.BatchSize),
		embedder.WithMetrics(a.metrics),
		embedder.WithLogger(a.logger),
	)

	c.store, err = vectorstore.New(ctx, db, c.adapter, vectorstore.WithLogger(a.logger))
	if err != nil {
		c.Close()
		return nil, err
	}

	c.progress = a.ledger(db)
	return c, nil
}

// ledger keeps progress in the file named by progress_file, or in the store
func (a *app) ledger(db *storage.SQLiteStorage) *ledger.Ledger {
	if a.cfg.ProgressFile != "" {
		return ledger.New(ledger.NewFileStore(a.cfg.ProgressFile), ledger.WithLogger(a.logger))
	}
	return ledger.New(db, ledger.WithLogger(a.logger))
}

// pipeline builds an ingestion pipeline over c. ext may be nil.
func (a *app) pipeline(c *components, cfg indexer.Config, ext extractor.Extractor) (*indexer.Pipeline, error) {
	chunks, err := chunker.New(a.cfg.Chunk.Size, a.cfg.Chunk.Overlap)
	if err != nil {
		return nil, errors.Join(types.ErrConfiguration, err)
	}

	opts := []indexer.Option{
		indexer.WithConfig(cfg),
		indexer.WithChunker(chunks),
		indexer.WithMetrics(a.metrics),
		indexer.WithLogger(a.logger),
	}
	if ext != nil {
		opts = append(opts, indexer.WithExtractor(ext))
	}
	return indexer.New(c.store, c.progress, source.NewMultiReader(source.NewPDFReader()), opts...)
}

// extractor builds the LLM extractor from the llm settings
func (a *app) extractor(ctx context.Context) (extractor.Extractor, error) {
	client, err := a.newLLM(ctx, a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	return extractor.New(client,
		extractor.WithThrottle(throttle.New(a.cfg.LLM.Throttle.ThrottleConfig())),
		extractor.WithMetrics(a.metrics),
		extractor.WithLogger(a.logger),
	), nil
}

// searcher builds the query engine over c
func (a *app) searcher(c *components) (*searcher.Searcher, error) {
	return searcher.NewSearcher(c.store, a.cfg.Search.CacheSize,
		searcher.WithCacheTTL(a.cfg.Search.CacheTTL),
		searcher.WithMetrics(a.metrics),
		searcher.WithLogger(a.logger),
	)
}

// discover lists the documents under dir
func discover(dir string) ([]source.Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrInvalidParameter, err), "cannot read input directory", goerr.V("dir", dir))
	}
	if !info.IsDir() {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "input is not a directory", goerr.V("dir", dir))
	}
	sources, err := source.Discover(dir, source.Options{})
	if err != nil {
		return nil, err
	}
	if err := checkPDFTool(sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// checkPDFTool fails fast when PDFs are present but pdftotext is missing
func checkPDFTool(sources []source.Source) error {
	if slices.ContainsFunc(sources, func(s source.Source) bool { return s.Ext == ".pdf" }) {
		return source.CheckPDFTool()
	}
	return nil
}
