package indexer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dshills/paperdex/internal/extractor"
	"github.com/dshills/paperdex/internal/source"
)

// loadKeyPrefix separates batch-file ledger entries from source entries
const loadKeyPrefix = "load:"

// Load stores the records of existing batch files without calling the
// extractor. A file whose ledger entry covers all of its records is skipped
// unless Force is set.
func (p *Pipeline) Load(ctx context.Context, files []string) (*Statistics, error) {
	sources := make([]source.Source, len(files))
	for i, f := range files {
		var size int64
		if info, err := os.Stat(f); err == nil {
			size = info.Size()
		}
		sources[i] = source.Source{Name: filepath.Base(f), Path: f, Ext: filepath.Ext(f), Size: size}
	}
	return p.run(ctx, "load", sources, p.loadFile, nil)
}

func (p *Pipeline) loadFile(ctx context.Context, src source.Source) SourceResult {
	res := SourceResult{Name: src.Name, State: StateInFlight}
	if err := ctx.Err(); err != nil {
		return interrupted(res, err)
	}

	records, err := extractor.ReadBatchFile(src.Path)
	if err != nil {
		return fail(res, err)
	}

	key := loadKeyPrefix + src.Name
	next := 0
	if p.cfg.Force {
		_ = p.progress.Reset(ctx, key)
	} else if count, ok, err := p.progress.Get(ctx, key); err == nil && ok {
		if count >= len(records) {
			res.State = StateSkipped
			res.Units = count
			return res
		}
		next = count
	}

	docs := recordDocuments(records)
	for next < len(docs) {
		res.Units = next
		if err := ctx.Err(); err != nil {
			return interrupted(res, err)
		}
		end := min(next+p.cfg.ChunkBatchSize, len(docs))

		inserted, attempts, err := p.insert(ctx, src.Name, docs[next:end])
		res.Attempts = attempts
		res.Inserted += inserted
		if inserted > 0 {
			next += inserted
			res.Units = next
			p.record(ctx, key, next)
		}
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(res, err)
			}
			return fail(res, err)
		}
	}

	res.State = StateSucceeded
	res.Units = len(docs)
	return res
}
