// Package indexer drives sources through the ingestion pipeline.
//
// Three kinds of run share one scheduler:
//
//   - Ingest reads each source, segments it and stores the chunks
//   - Extract sends each source to an LLM extractor, writes a JSON Lines
//     batch file and stores the validated summaries
//   - Load stores the records of batch files produced by earlier runs
//
// # Basic Usage
//
//	p, err := indexer.New(store, ledger.New(db), source.NewMultiReader(source.NewPDFReader()),
//	    indexer.WithChunker(c),
//	    indexer.WithLogger(logger),
//	)
//
//	sources, _ := source.Discover("/papers", source.Options{})
//	stats, err := p.Ingest(ctx, sources)
//	if stats.HasFailures() {
//	    os.Exit(1)
//	}
//
// # Scheduling
//
// A fixed pool of Workers goroutines consumes a queue of sources. The
// dispatcher pauses for BatchPause after every BatchSize queued sources so
// rate-limited services get a breather. Workers live for the whole run.
//
// # Source States
//
//	Pending -> InFlight -> Succeeded | Failed
//
// Sources that are already complete become Skipped. A source interrupted by
// cancellation goes back to Pending; its last chunk-batch is always
// committed first.
//
// # Resume and Skip Rules
//
// The progress ledger stores how many chunks of each source are in the
// store. Ingest skips a source whose count covers every chunk and resumes
// a partial one from its count. Extract skips a source whose batch file
// validates and reprocesses one whose file is invalid. Force ignores both.
//
// # Retries
//
// Embed+insert and extraction calls run under retry.Do. Transient errors
// back off before the next try while malformed output is retried at once.
// Anything else fails the source. A failed source never stops the others;
// only configuration errors end the run early.
package indexer
