// Package store is the embedded relational store: all durable state behind
// a single modernc.org/sqlite-backed *sql.DB at <data_dir>/microclaw.db.
//
// Grounded on the teacher's internal/store/pg package (database/sql-based
// store construction, one struct per entity family) adapted from a
// Postgres-server backend to a single embedded file, since spec.md's Store
// is explicitly NOT a multi-tenant Postgres server (DESIGN.md "Dropped
// teacher dependencies").
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// Store is the process-wide handle described in spec §4.1: a single
// underlying connection (sqlite is single-writer regardless of pool size,
// so we pin MaxOpenConns to 1 and serialize writers with mu), with a
// worker-pool offload for blocking calls from async callers.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes the single writer connection

	dataDir string
	pool    *workerPool
}

// Open opens (creating if needed) <dataDir>/microclaw.db and brings it to
// the current schema version.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperr.New(apperr.IO, "create data dir", err)
	}
	dbPath := filepath.Join(dataDir, "microclaw.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, apperr.New(apperr.Storage, "open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dataDir: dataDir, pool: newWorkerPool(4)}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, apperr.New(apperr.Storage, "migrate", err)
	}
	return s, nil
}

// Close releases the underlying connection and worker pool.
func (s *Store) Close() error {
	s.pool.close()
	return s.db.Close()
}

// DataDir returns the directory the store's files live under.
func (s *Store) DataDir() string { return s.dataDir }

// callBlocking offloads fn to the worker pool and translates a panic
// (the Go analogue of a join failure on another runtime) into a Storage
// error, matching spec §4.1's call_blocking contract.
func callBlocking[T any](ctx context.Context, s *Store, fn func() (T, error)) (T, error) {
	v, err := run(ctx, s.pool, fn)
	if pe, ok := err.(*panicErr); ok {
		return v, apperr.New(apperr.Storage, "call_blocking", pe)
	}
	return v, err
}

// withLock runs fn while holding the single-writer lock. A poisoned lock
// (fn panicking) is recovered so later callers are not permanently blocked
// — the data stays consistent because every write is one statement or an
// explicit transaction (spec §4.1).
func (s *Store) withLock(fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.Storage, nil, "recovered panic in locked store call: %v", r)
		}
	}()
	return fn()
}

type txKey struct{}

// WithTx runs fn inside a single flat transaction. Nested calls (detected
// via a context marker) return a Storage error rather than attempting to
// nest — Open Question decision #1 in SPEC_FULL.md §D: transactions are
// flat, matching database/sql's own non-reentrant *sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if ctx.Value(txKey{}) != nil {
		return apperr.New(apperr.Storage, "nested transaction attempted", nil)
	}
	return s.withLock(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return apperr.New(apperr.Storage, "begin tx", err)
		}
		txCtx := context.WithValue(ctx, txKey{}, tx)
		if err := fn(txCtx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return apperr.New(apperr.Storage, "commit tx", err)
		}
		return nil
	})
}

// exec runs a single write statement under the writer lock.
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := s.withLock(func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.New(apperr.Storage, fmt.Sprintf("exec: %s", query), err)
	}
	return res, nil
}

// query runs a read statement. Reads don't need the writer lock since
// sqlite in WAL mode allows concurrent readers; only writers serialize.
func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.New(apperr.Storage, fmt.Sprintf("query: %s", query), err)
	}
	return rows, nil
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}
