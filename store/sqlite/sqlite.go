/*
Package sqlite provides a SQLite-backed implementation of store.Store.

PURPOSE:
  Persists contracts, bookings, transfer requests and rewards as versioned
  JSON documents, one table per entity. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  contracts, bookings, transfers, rewards:
    id         TEXT PRIMARY KEY
    version    INTEGER  (compare-and-set column)
    doc        TEXT     (JSON document)
    updated_at TEXT

COMPARE-AND-SET:
  UPDATE ... WHERE id = ? AND version = ?
  Zero affected rows means the document is gone or someone else won; a
  follow-up existence check tells NotFound from ConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole SQL transaction. In production with PostgreSQL, database-level
  concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.
  ":memory:" databases are pinned to one connection, since every new
  connection would open an empty database.

USAGE:
  s, err := sqlite.New("./data/lease.db")
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()

  e := engine.New(s, ...)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/store.go: Store and Repos
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/transfer"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ store.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	for _, table := range store.Tables {
		schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			doc TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated_at ON %[1]s(updated_at);
		`, table)
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	return nil
}

// Repos returns repositories that run each statement on its own.
func (s *Store) Repos() store.Repos {
	return reposFor(&lockedDB{db: s.db, mu: &s.mu})
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(reposFor(sqlTx)); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func reposFor(q querier) store.Repos {
	return store.Repos{
		Contracts: &docTable[contract.Contract]{name: store.Contracts, q: q},
		Bookings:  &docTable[booking.Booking]{name: store.Bookings, q: q},
		Transfers: &docTable[transfer.Request]{name: store.Transfers, q: q},
		Rewards:   &docTable[rewards.CommitmentReward]{name: store.Rewards, q: q},
	}
}

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lockedDB serializes statements against WithTx.
type lockedDB struct {
	db *sql.DB
	mu *sync.RWMutex
}

func (l *lockedDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.ExecContext(ctx, query, args...)
}

func (l *lockedDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.QueryContext(ctx, query, args...)
}

func (l *lockedDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db.QueryRowContext(ctx, query, args...)
}

// =============================================================================
// DOCUMENT TABLE
// =============================================================================

type docTable[T generic.Document[T]] struct {
	name string
	q    querier
}

func (t *docTable[T]) Get(ctx context.Context, id string) (T, error) {
	var (
		zero T
		raw  string
	)
	err := t.q.QueryRowContext(ctx, "SELECT doc FROM "+t.name+" WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return zero, generic.NotFound(t.name, id)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get %s %s: %w", t.name, id, err)
	}
	return store.Decode[T]([]byte(raw))
}

func (t *docTable[T]) Find(ctx context.Context, match func(T) bool) ([]T, error) {
	rows, err := t.q.QueryContext(ctx, "SELECT doc FROM "+t.name+" ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.name, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.name, err)
		}
		doc, err := store.Decode[T]([]byte(raw))
		if err != nil {
			return nil, err
		}
		if match(doc) {
			out = append(out, doc)
		}
	}
	return out, rows.Err()
}

func (t *docTable[T]) Insert(ctx context.Context, doc T) (T, error) {
	doc = doc.WithVersion(1)
	b, err := store.Encode(doc)
	if err != nil {
		return doc, err
	}
	_, err = t.q.ExecContext(ctx,
		"INSERT INTO "+t.name+" (id, version, doc, updated_at) VALUES (?, ?, ?, ?)",
		doc.DocumentID(), doc.DocumentVersion(), string(b), timestamp(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return doc, generic.ErrAlreadyExists
		}
		return doc, fmt.Errorf("failed to insert %s: %w", t.name, err)
	}
	return doc, nil
}

func (t *docTable[T]) Update(ctx context.Context, doc T) (T, error) {
	expected := doc.DocumentVersion()
	doc = doc.WithVersion(expected + 1)
	b, err := store.Encode(doc)
	if err != nil {
		return doc, err
	}
	res, err := t.q.ExecContext(ctx,
		"UPDATE "+t.name+" SET version = ?, doc = ?, updated_at = ? WHERE id = ? AND version = ?",
		doc.DocumentVersion(), string(b), timestamp(), doc.DocumentID(), expected,
	)
	if err != nil {
		return doc, fmt.Errorf("failed to update %s: %w", t.name, err)
	}
	if err := t.checkAffected(ctx, res, doc.DocumentID()); err != nil {
		return doc.WithVersion(expected), err
	}
	return doc, nil
}

func (t *docTable[T]) Delete(ctx context.Context, id string, version int64) error {
	res, err := t.q.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE id = ? AND version = ?", id, version)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", t.name, err)
	}
	return t.checkAffected(ctx, res, id)
}

// checkAffected turns a zero-row write into NotFound or ConcurrentModification.
func (t *docTable[T]) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	var count int
	if err := t.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name+" WHERE id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check %s %s: %w", t.name, id, err)
	}
	if count == 0 {
		return generic.NotFound(t.name, id)
	}
	return generic.ErrConcurrentModification
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range store.Tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func timestamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
