package cli

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/paperdex/internal/chunker"
	"github.com/dshills/paperdex/internal/config"
	"github.com/dshills/paperdex/internal/extractor"
	"github.com/dshills/paperdex/internal/indexer"
	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/pkg/types"
)

func (a *app) ingestCmd() *cobra.Command {
	var (
		workers      int
		batchSize    int
		batchPause   time.Duration
		chunkSize    int
		overlap      int
		chunkBatch   int
		force        bool
		allowPartial bool
		progressFile string
	)

	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Split documents into chunks and store them",
		Long: `Reads every .txt, .md and .pdf file under dir, splits it into
sentence-aligned chunks and stores each chunk with its fingerprint.
Completed sources are skipped on later runs unless --force is given.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("workers") {
				a.cfg.Ingest.Workers = workers
			}
			if flags.Changed("batch-size") {
				a.cfg.Ingest.BatchSize = batchSize
			}
			if flags.Changed("batch-pause") {
				a.cfg.Ingest.BatchPause = batchPause
			}
			if flags.Changed("chunk-size") {
				a.cfg.Chunk.Size = chunkSize
			}
			if flags.Changed("overlap") {
				a.cfg.Chunk.Overlap = overlap
			}
			if flags.Changed("chunk-batch") {
				a.cfg.Ingest.ChunkBatchSize = chunkBatch
			}
			if flags.Changed("progress-file") {
				a.cfg.ProgressFile = progressFile
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			sources, err := discover(args[0])
			if err != nil {
				return err
			}

			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			pc := a.cfg.PipelineConfig()
			pc.Force = force
			p, err := a.pipeline(c, pc, nil)
			if err != nil {
				return err
			}

			stats, err := p.Ingest(cmd.Context(), sources)
			return a.finish(stats, err, allowPartial)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&workers, "workers", indexer.DefaultWorkers, "sources processed concurrently")
	flags.IntVar(&batchSize, "batch-size", indexer.DefaultBatchSize, "sources per batch before pausing")
	flags.DurationVar(&batchPause, "batch-pause", indexer.DefaultBatchPause, "pause between batches")
	flags.IntVar(&chunkSize, "chunk-size", chunker.DefaultMaxSize, "maximum chunk length in characters")
	flags.IntVar(&overlap, "overlap", chunker.DefaultOverlap, "characters shared by slices of an oversized sentence")
	flags.IntVar(&chunkBatch, "chunk-batch", indexer.DefaultChunkBatchSize, "chunks stored per write")
	flags.BoolVar(&force, "force", false, "reprocess sources already marked complete")
	flags.BoolVar(&allowPartial, "allow-partial", false, "exit 0 even if some sources failed")
	flags.StringVar(&progressFile, "progress-file", "", "keep progress in this JSON file instead of the store")
	return cmd
}

func (a *app) extractCmd() *cobra.Command {
	var (
		outputDir    string
		workers      int
		maxAttempts  int
		force        bool
		allowPartial bool
	)

	cmd := &cobra.Command{
		Use:   "extract <dir>",
		Short: "Summarize documents with an LLM and store the summaries",
		Long: `Sends every document under dir to the configured Gemini model with
the extraction prompts, writes the validated JSON summaries to a batch file
per document in the output directory and stores them. Documents whose batch
file already validates are skipped unless --force is given.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("output") {
				a.cfg.Extract.OutputDir = outputDir
			}
			if flags.Changed("workers") {
				a.cfg.Ingest.Workers = workers
			}
			if flags.Changed("max-attempts") {
				a.cfg.Extract.MaxAttempts = maxAttempts
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := a.cfg.ValidateExtraction(); err != nil {
				return err
			}

			sources, err := discover(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			ext, err := a.extractor(ctx)
			if err != nil {
				return err
			}

			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			pc := a.cfg.PipelineConfig()
			pc.Force = force
			p, err := a.pipeline(c, pc, ext)
			if err != nil {
				return err
			}

			stats, err := p.Extract(ctx, sources)
			return a.finish(stats, err, allowPartial)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&outputDir, "output", config.DefaultOutputDir, "directory for batch files")
	flags.IntVar(&workers, "workers", indexer.DefaultWorkers, "documents processed concurrently")
	flags.IntVar(&maxAttempts, "max-attempts", retry.DefaultMaxAttempts, "tries per prompt before a document fails")
	flags.BoolVar(&force, "force", false, "reprocess documents that already have a valid batch file")
	flags.BoolVar(&allowPartial, "allow-partial", false, "exit 0 even if some documents failed")
	return cmd
}

func (a *app) loadCmd() *cobra.Command {
	var (
		workers      int
		force        bool
		allowPartial bool
	)

	cmd := &cobra.Command{
		Use:   "load <file-or-dir>",
		Short: "Store records from existing batch files",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				a.cfg.Ingest.Workers = workers
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			files, err := extractor.DiscoverBatchFiles(args[0])
			if err != nil {
				return err
			}

			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			pc := a.cfg.PipelineConfig()
			pc.Force = force
			p, err := a.pipeline(c, pc, nil)
			if err != nil {
				return err
			}

			stats, err := p.Load(cmd.Context(), files)
			return a.finish(stats, err, allowPartial)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&workers, "workers", indexer.DefaultWorkers, "files processed concurrently")
	flags.BoolVar(&force, "force", false, "reload files already marked complete")
	flags.BoolVar(&allowPartial, "allow-partial", false, "exit 0 even if some files failed")
	return cmd
}

// finish prints the run summary and turns it into the command result
func (a *app) finish(stats *indexer.Statistics, runErr error, allowPartial bool) error {
	if stats == nil {
		return runErr
	}

	a.printf("Sources:   %d\n", stats.Total())
	a.printf("Succeeded: %d\n", stats.Succeeded)
	a.printf("Skipped:   %d\n", stats.Skipped)
	a.printf("Failed:    %d\n", stats.Failed)
	if stats.Pending > 0 {
		a.printf("Pending:   %d\n", stats.Pending)
	}
	a.printf("Chunks:    %d\n", stats.ChunksInserted)
	a.printf("Duration:  %s\n", stats.Duration.Round(time.Millisecond))

	for _, r := range stats.Sources {
		if r.State == indexer.StateFailed {
			a.printf("  FAILED %s: %v\n", r.Name, r.Err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if stats.HasFailures() {
		if allowPartial {
			a.logger.Warn("some sources failed", slog.Int("failed", stats.Failed))
			return nil
		}
		return goerr.Wrap(types.ErrSourceFailed, "some sources failed", goerr.V("failed", stats.Failed))
	}
	return nil
}
