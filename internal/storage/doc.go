// Package storage provides SQLite-based persistence for documents and their
// fingerprints.
//
// # Database Schema
//
// Tables:
//   - documents: content, source, category and annotation, keyed by a UUID;
//     seq records insertion order
//   - fingerprints: one little-endian float32 vector per document
//   - records: named single-value blobs, used by the progress ledger
//   - schema_version: applied migrations (semver)
//
// A document and its fingerprint are written in one transaction, so either
// both exist or neither does. The database runs in WAL mode with
// synchronous=FULL: once InsertDocument returns the row survives a crash.
//
// # Search
//
// SearchVector is a linear scan. Cosine similarity is computed in Go for
// every stored fingerprint, optionally restricted to one category in SQL.
// Results are ordered by similarity, then by insertion order.
//
//	db, err := storage.NewSQLiteStorage("paperdex.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	hits, err := db.SearchVector(ctx, query, 5, &storage.SearchFilters{Category: "finding"})
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Build with
// -tags cgo_sqlite to use github.com/mattn/go-sqlite3 instead.
package storage
