package indexer

import (
	"context"
	"log/slog"

	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/internal/vectorstore"
	"github.com/dshills/paperdex/pkg/types"
)

// Ingest runs the segmentation path over sources: each source is read,
// split into chunks and stored chunk-batch by chunk-batch, resuming from
// the ledger count unless Force is set.
//
// The returned error is non-nil only when the run could not complete:
// another run holds the lock, a configuration error stopped it, or ctx was
// cancelled. Per-source failures are reported in the Statistics.
func (p *Pipeline) Ingest(ctx context.Context, sources []source.Source) (*Statistics, error) {
	return p.run(ctx, "ingest", sources, p.segmentSource, nil)
}

func (p *Pipeline) segmentSource(ctx context.Context, src source.Source) SourceResult {
	res := SourceResult{Name: src.Name, State: StateInFlight}
	if err := ctx.Err(); err != nil {
		return interrupted(res, err)
	}
	if err := p.checkSize(src, 0); err != nil {
		return fail(res, err)
	}

	text, err := p.reader.Read(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(res, err)
		}
		return fail(res, err)
	}

	chunks := p.chunker.Chunks(text)
	total := len(chunks)

	next := 0
	if p.cfg.Force {
		if err := p.progress.Reset(ctx, src.Name); err != nil {
			p.logger.Warn("failed to reset progress", slog.String("source", src.Name), slog.Any("error", err))
		}
	} else {
		count, ok, err := p.progress.Get(ctx, src.Name)
		switch {
		case err != nil:
			p.logger.Warn("progress unavailable, starting from the beginning",
				slog.String("source", src.Name), slog.Any("error", err))
		case ok && count >= total:
			res.State = StateSkipped
			res.Units = count
			return res
		case ok && count > 0:
			next = count
			p.logger.Info("resuming source",
				slog.String("source", src.Name),
				slog.Int("from", count),
				slog.Int("total", total))
		}
	}

	p.logger.Debug("segmenting source",
		slog.String("source", src.Name),
		slog.Int("chunks", total),
		slog.Int("start", next))

	for next < total {
		res.Units = next
		if err := ctx.Err(); err != nil {
			return interrupted(res, err)
		}

		end := min(next+p.cfg.ChunkBatchSize, total)
		docs := make([]vectorstore.NewDocument, 0, end-next)
		for _, chunk := range chunks[next:end] {
			docs = append(docs, vectorstore.NewDocument{
				Content:  chunk,
				Source:   src.Name,
				Category: types.DefaultCategory,
			})
		}

		inserted, attempts, err := p.insert(ctx, src.Name, docs)
		res.Attempts = attempts
		res.Inserted += inserted
		if inserted > 0 {
			next += inserted
			res.Units = next
			p.record(ctx, src.Name, next)
		}
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(res, err)
			}
			return fail(res, err)
		}
	}

	if total == 0 {
		p.record(ctx, src.Name, 0)
	}
	res.State = StateSucceeded
	res.Units = total
	return res
}
