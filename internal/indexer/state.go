package indexer

import (
	"time"
)

// State is where a source is in its ingestion lifecycle
type State int

const (
	// StatePending sources have not been attempted, or were interrupted
	StatePending State = iota
	// StateInFlight sources are being processed by a worker
	StateInFlight
	// StateSucceeded sources had every unit stored and recorded
	StateSucceeded
	// StateFailed sources exhausted their attempts or hit a fatal error
	StateFailed
	// StateSkipped sources were already complete from a previous run
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateInFlight:
		return "in_flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Terminal reports whether no further work is expected in this run
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// SourceResult is the outcome for one source
type SourceResult struct {
	Name     string
	State    State
	Units    int   // Units recorded in the ledger for this source
	Inserted int   // Documents inserted during this run
	Attempts int   // Tries used by the last retried operation
	Err      error // Cause when State is StateFailed or StatePending after interruption
}

// Statistics summarizes a run
type Statistics struct {
	Succeeded      int
	Failed         int
	Skipped        int
	Pending        int
	ChunksInserted int
	Duration       time.Duration
	Sources        []SourceResult
}

// HasFailures reports whether any source ended in StateFailed
func (s *Statistics) HasFailures() bool {
	return s != nil && s.Failed > 0
}

// Total is the number of sources the run considered
func (s *Statistics) Total() int {
	if s == nil {
		return 0
	}
	return len(s.Sources)
}

func newStatistics(results []SourceResult, elapsed time.Duration) *Statistics {
	stats := &Statistics{Duration: elapsed, Sources: results}
	for _, r := range results {
		stats.ChunksInserted += r.Inserted
		switch r.State {
		case StateSucceeded:
			stats.Succeeded++
		case StateFailed:
			stats.Failed++
		case StateSkipped:
			stats.Skipped++
		default:
			stats.Pending++
		}
	}
	return stats
}
