// Package ledger records how many units of each source have been ingested.
//
// The ledger is advisory. A missing or unreadable record is treated as empty,
// so the worst outcome of losing it is reprocessing, never wrong results.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// DefaultRecordName is the record the ledger is stored under
const DefaultRecordName = "ingest_progress"

// RecordStore holds named blobs. LoadRecord returns an error matching
// types.ErrNotFound for a name that was never saved.
type RecordStore interface {
	LoadRecord(ctx context.Context, name string) ([]byte, error)
	SaveRecord(ctx context.Context, name string, value []byte) error
}

// Ledger maps source names to ingested unit counts
type Ledger struct {
	store  RecordStore
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]int
	loaded  bool
}

// Option configures a Ledger
type Option func(*Ledger)

// WithRecordName stores the ledger under name instead of DefaultRecordName
func WithRecordName(name string) Option {
	return func(l *Ledger) {
		if name != "" {
			l.name = name
		}
	}
}

// WithLogger sets the ledger's logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a ledger backed by store. Nothing is read until first use.
func New(store RecordStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		name:   DefaultRecordName,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the recorded count for source and whether an entry exists
func (l *Ledger) Get(ctx context.Context, source string) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.load(ctx); err != nil {
		return 0, false, err
	}
	n, ok := l.entries[source]
	return n, ok, nil
}

// Set records count for source and rewrites the whole record. The
// in-memory view changes only once the write succeeds.
func (l *Ledger) Set(ctx context.Context, source string, count int) error {
	if source == "" {
		return goerr.Wrap(types.ErrInvalidParameter, "source name is required")
	}
	if count < 0 {
		return goerr.Wrap(types.ErrInvalidParameter, "count must not be negative",
			goerr.V("source", source), goerr.V("count", count))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.load(ctx); err != nil {
		return err
	}

	next := maps.Clone(l.entries)
	next[source] = count
	return l.save(ctx, next)
}

// Reset removes the entry for source
func (l *Ledger) Reset(ctx context.Context, source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.load(ctx); err != nil {
		return err
	}
	if _, ok := l.entries[source]; !ok {
		return nil
	}

	next := maps.Clone(l.entries)
	delete(next, source)
	return l.save(ctx, next)
}

// Entries returns a snapshot of every entry
func (l *Ledger) Entries(ctx context.Context) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.load(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(l.entries), nil
}

// load reads the record once. Callers hold l.mu.
func (l *Ledger) load(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	l.entries = make(map[string]int)
	data, err := l.store.LoadRecord(ctx, l.name)
	switch {
	case errors.Is(err, types.ErrNotFound):
		l.loaded = true
		return nil
	case err != nil:
		return goerr.Wrap(err, "failed to load ledger", goerr.V("record", l.name))
	}

	if len(data) > 0 {
		var entries map[string]int
		if err := json.Unmarshal(data, &entries); err != nil {
			l.logger.Warn("ledger record is corrupt, starting empty",
				slog.String("record", l.name),
				slog.Any("error", err))
		} else {
			for k, v := range entries {
				if v >= 0 {
					l.entries[k] = v
				}
			}
		}
	}

	l.loaded = true
	return nil
}

func (l *Ledger) save(ctx context.Context, entries map[string]int) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return goerr.Wrap(err, "failed to encode ledger")
	}
	if err := l.store.SaveRecord(ctx, l.name, data); err != nil {
		return goerr.Wrap(err, "failed to save ledger", goerr.V("record", l.name))
	}
	l.entries = entries
	return nil
}
