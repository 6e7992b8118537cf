//go:build cgo_sqlite

package storage

// Compiled with -tags cgo_sqlite. Uses the C SQLite library through
// github.com/mattn/go-sqlite3; requires CGO_ENABLED=1.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
