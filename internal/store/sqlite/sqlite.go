// Package sqlite is the SQLite-backed implementation of store.Storage,
// built on the pure-Go ncruces/go-sqlite3 driver (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// SQLiteStorage implements store.Storage over a single *sql.DB. Writes to
// the same element are serialized via one mutex per element id so
// that concurrent updates observe each other's committed state before OCC
// comparison.
type SQLiteStorage struct {
	db   *sql.DB
	path string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New opens (creating if necessary) a SQLite-backed store at path. Pass
// ":memory:" for a private in-process database (tests that exercise the
// connection pool should prefer a t.TempDir() file path).
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: single-writer; serialize at the pool.

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	return &SQLiteStorage{
		db:    db,
		path:  path,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *SQLiteStorage) elementLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) Path() string { return s.path }

func (s *SQLiteStorage) UnderlyingDB() *sql.DB { return s.db }

// RunInTransaction executes fn within a single BEGIN IMMEDIATE transaction,
// committing on nil return and rolling back otherwise.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx store.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}

	tx := &sqlTx{store: s, conn: conn}
	if err := fn(tx); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// execInTx runs fn within a BEGIN IMMEDIATE/COMMIT bracket over a
// dedicated connection, for Storage methods (document versioning,
// channel/message creation) whose multi-statement writes must be atomic
// even though they aren't exposed through the public Transaction type.
func (s *SQLiteStorage) execInTx(ctx context.Context, fn func(ex execer) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Conn, letting the CRUD
// methods below run either standalone or inside RunInTransaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqlTx adapts a single *sql.Conn mid-transaction to store.Transaction by
// delegating to the same CRUD helpers the top-level Storage uses.
type sqlTx struct {
	store *SQLiteStorage
	conn  *sql.Conn
}
