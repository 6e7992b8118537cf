package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// ErrNotFound is returned when a requested entity doesn't exist
var ErrNotFound = types.ErrNotFound

// timeLayout has fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite has a single writer, and PRAGMAs are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the store at dbPath and
// applies pending migrations. Use ":memory:" for a throwaway store.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to open database",
			goerr.V("path", dbPath))
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to apply migrations",
			goerr.V("path", dbPath))
	}

	return &SQLiteStorage{db: db}, nil
}

// DB exposes the underlying handle for maintenance commands
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to begin transaction")
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to commit")
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) InsertDocument(ctx context.Context, doc *types.Document, fp *Fingerprint) error {
	return t.storage.insertDocumentWithQuerier(ctx, t.tx, doc, fp)
}

func (t *sqliteTx) SaveRecord(ctx context.Context, name string, value []byte) error {
	return t.storage.saveRecordWithQuerier(ctx, t.tx, name, value)
}

// Document operations

// InsertDocument writes doc and its fingerprint in one transaction. An empty
// doc.ID is replaced with a new UUID; doc.Seq and doc.CreatedAt are filled in.
func (s *SQLiteStorage) InsertDocument(ctx context.Context, doc *types.Document, fp *Fingerprint) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.insertDocumentWithQuerier(ctx, tx, doc, fp); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to commit document",
			goerr.V("id", doc.ID))
	}
	return nil
}

// insertDocumentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertDocumentWithQuerier(ctx context.Context, q querier, doc *types.Document, fp *Fingerprint) error {
	if doc == nil || fp == nil {
		return goerr.Wrap(types.ErrInvalidParameter, "document and fingerprint are required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if err := doc.Validate(); err != nil {
		return goerr.Wrap(errors.Join(types.ErrInvalidParameter, err), "invalid document")
	}
	if len(fp.Vector) == 0 {
		return goerr.Wrap(types.ErrInvalidParameter, "fingerprint vector is empty", goerr.V("id", doc.ID))
	}

	dim, err := storedDimension(ctx, q)
	if err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to read store dimension")
	}
	if dim != 0 && dim != len(fp.Vector) {
		return goerr.Wrap(types.ErrInvalidParameter, "fingerprint dimension does not match store",
			goerr.V("store", dim), goerr.V("got", len(fp.Vector)))
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO documents (id, content, source, category, annotation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Content, doc.Source, doc.Category, doc.Annotation, doc.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to insert document",
			goerr.V("id", doc.ID))
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to read document seq")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO fingerprints (document_id, vector, dimension, provider, model)
		VALUES (?, ?, ?, ?, ?)
	`, doc.ID, serializeVector(fp.Vector), len(fp.Vector), fp.Provider, fp.Model)
	if err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to insert fingerprint",
			goerr.V("id", doc.ID))
	}

	doc.Seq = seq
	return nil
}

// storedDimension returns the fingerprint width already in the store, or 0
func storedDimension(ctx context.Context, q querier) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, "SELECT dimension FROM fingerprints LIMIT 1").Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return dim, err
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return getDocumentWithQuerier(ctx, s.db, id)
}

// getDocumentWithQuerier is the internal implementation that uses a querier
func getDocumentWithQuerier(ctx context.Context, q querier, id string) (*types.Document, error) {
	query := `
		SELECT seq, id, content, source, category, annotation, created_at
		FROM documents
		WHERE id = ?
	`
	doc, err := scanDocument(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(ErrNotFound, "document not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to get document",
			goerr.V("id", id))
	}
	return doc, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var doc types.Document
	var createdAt string
	if err := row.Scan(&doc.Seq, &doc.ID, &doc.Content, &doc.Source, &doc.Category,
		&doc.Annotation, &createdAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	doc.CreatedAt = t
	return &doc, nil
}

func (s *SQLiteStorage) DocumentCount(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM documents")
}

func (s *SQLiteStorage) FingerprintCount(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM fingerprints")
}

func (s *SQLiteStorage) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to count rows")
	}
	return n, nil
}

func (s *SQLiteStorage) CategoryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT category, COUNT(*) FROM documents GROUP BY category")
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to count categories")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to scan category")
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStorage) ListSources(ctx context.Context) ([]SourceCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*) FROM documents
		GROUP BY source
		ORDER BY source
	`)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to list sources")
	}
	defer func() { _ = rows.Close() }()

	var sources []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Documents); err != nil {
			return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to scan source")
		}
		sources = append(sources, sc)
	}
	return sources, rows.Err()
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.db, vector, limit, filters)
}

// Record operations

// LoadRecord returns the value stored under name, or ErrNotFound
func (s *SQLiteStorage) LoadRecord(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM records WHERE name = ?", name).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(ErrNotFound, "record not found", goerr.V("name", name))
	}
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to load record",
			goerr.V("name", name))
	}
	return value, nil
}

// SaveRecord replaces the value stored under name
func (s *SQLiteStorage) SaveRecord(ctx context.Context, name string, value []byte) error {
	return s.saveRecordWithQuerier(ctx, s.db, name, value)
}

func (s *SQLiteStorage) saveRecordWithQuerier(ctx context.Context, q querier, name string, value []byte) error {
	if name == "" {
		return goerr.Wrap(types.ErrInvalidParameter, "record name is required")
	}
	if value == nil {
		value = []byte{}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to save record",
			goerr.V("name", name))
	}
	return nil
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	var err error
	if status.Documents, err = s.DocumentCount(ctx); err != nil {
		return nil, err
	}
	if status.Fingerprints, err = s.FingerprintCount(ctx); err != nil {
		return nil, err
	}
	if status.Categories, err = s.CategoryCounts(ctx); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT source) FROM documents").Scan(&status.Sources); err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to count sources")
	}

	if status.Dimension, err = storedDimension(ctx, s.db); err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrStoreFailure, err), "failed to read store dimension")
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM documents").Scan(&last); err == nil && last.Valid {
		if t, perr := time.Parse(timeLayout, last.String); perr == nil {
			status.LastInsertAt = t
		}
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var orphans int
	_ = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents d
		LEFT JOIN fingerprints f ON f.document_id = d.id
		WHERE f.document_id IS NULL
	`).Scan(&orphans)

	status.Health = HealthStatus{
		DatabaseAccessible: true,
		Consistent:         orphans == 0 && status.Documents == status.Fingerprints,
	}

	return status, nil
}
