package indexer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/internal/extractor"
	"github.com/dshills/paperdex/internal/retry"
	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/internal/vectorstore"
	"github.com/dshills/paperdex/pkg/types"
)

// extractKeyPrefix separates extraction ledger entries, which count
// records, from ingest entries, which count chunks
const extractKeyPrefix = "extract:"

// Extract runs the extraction path over sources. Each configured prompt
// is sent to the extractor, the validated responses are written to the
// source's batch file and then stored with the prompt as annotation.
//
// A source whose batch file already validates is skipped without touching
// the store; an invalid batch file is reprocessed.
func (p *Pipeline) Extract(ctx context.Context, sources []source.Source) (*Statistics, error) {
	if p.extractor == nil {
		return nil, goerr.Wrap(types.ErrConfiguration, "extraction requires an extractor")
	}
	if strings.TrimSpace(p.cfg.OutputDir) == "" {
		return nil, goerr.Wrap(types.ErrInvalidParameter, "extraction requires an output directory")
	}
	return p.run(ctx, "extract", sources, p.extractSource, p.batchComplete)
}

// batchComplete reports whether src already has a valid batch file
func (p *Pipeline) batchComplete(_ context.Context, src source.Source) bool {
	if p.cfg.Force {
		return false
	}
	path := extractor.BatchFilePath(p.cfg.OutputDir, src.Name)
	err := extractor.ValidateBatchFile(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, types.ErrNotFound) {
		p.logger.Warn("invalid batch file, reprocessing",
			slog.String("source", src.Name),
			slog.String("path", path),
			slog.Any("error", err))
	}
	return false
}

func (p *Pipeline) extractSource(ctx context.Context, src source.Source) SourceResult {
	res := SourceResult{Name: src.Name, State: StateInFlight}
	if err := ctx.Err(); err != nil {
		return interrupted(res, err)
	}
	if err := p.checkSize(src, p.cfg.MinSourceBytes); err != nil {
		return fail(res, err)
	}

	text, err := p.reader.Read(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(res, err)
		}
		return fail(res, err)
	}
	if strings.TrimSpace(text) == "" {
		return fail(res, goerr.Wrap(types.ErrInvalidParameter, "source has no extractable text"))
	}

	doc := extractor.Document{Name: src.Name, Path: src.Path, Text: text}
	records := make([]extractor.Record, 0, len(p.cfg.Prompts))
	for _, prompt := range p.cfg.Prompts {
		content, attempts, err := retry.Do(ctx, p.cfg.ExtractPolicy, func(ctx context.Context) (string, error) {
			return p.extractor.Extract(ctx, doc, prompt.Text)
		}, p.observer(src.Name, "extract"))
		res.Attempts = attempts
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(res, err)
			}
			return fail(res, err)
		}

		records = append(records, extractor.Record{
			Content: content,
			Metadata: extractor.RecordMetadata{
				SourceFile:  src.Name,
				SummaryType: prompt.SummaryType,
				ProcessedAt: time.Now().UTC(),
				Prompt:      prompt.Text,
			},
		})
	}

	// From here on the source's results are committed even if ctx is cancelled
	wctx := context.WithoutCancel(ctx)

	path := extractor.BatchFilePath(p.cfg.OutputDir, src.Name)
	if err := extractor.WriteBatchFile(path, records); err != nil {
		return fail(res, err)
	}

	inserted, attempts, err := p.insert(wctx, src.Name, recordDocuments(records))
	res.Attempts = attempts
	res.Inserted = inserted
	if err != nil {
		return fail(res, err)
	}

	p.record(wctx, extractKeyPrefix+src.Name, len(records))
	res.State = StateSucceeded
	res.Units = len(records)
	return res
}

// recordDocuments maps batch records onto store documents
func recordDocuments(records []extractor.Record) []vectorstore.NewDocument {
	docs := make([]vectorstore.NewDocument, len(records))
	for i, r := range records {
		docs[i] = vectorstore.NewDocument{
			Content:    r.Content,
			Source:     r.Metadata.SourceFile,
			Category:   r.Category(),
			Annotation: r.Metadata.Prompt,
		}
	}
	return docs
}
