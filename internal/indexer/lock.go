package indexer

import (
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
)

// ErrRunInProgress is returned when a pipeline is asked to run while
// another run holds its lock
var ErrRunInProgress = goerr.New("an ingestion run is already in progress")

// RunLock is a non-blocking lock guarding a single ingestion run
type RunLock struct {
	state atomic.Int32 // 0 = free, 1 = held
}

// TryAcquire takes the lock if it is free and reports whether it did
func (l *RunLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock.
// Must only be called by the holder.
func (l *RunLock) Release() {
	l.state.Store(0)
}

// Held reports whether a run currently holds the lock
func (l *RunLock) Held() bool {
	return l.state.Load() == 1
}
