// Package storage implements the state store on embedded SQLite: projects,
// canonical issues with per-source bindings and timestamps, and sync run
// history. WAL mode, foreign keys on, single writer.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// Store is the embedded state database. All mutations go through idempotent
// upserts; batch operations share a single transaction.
type Store struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

func init() {
	// Persistent WASM compilation cache cuts SQLite startup from ~220ms to
	// ~20ms on warm runs. Falls back to an in-memory cache if the cache dir
	// cannot be created.
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "trisync", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

// Open creates or opens the state database at path. ":memory:" opens a
// shared in-memory database for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	var connStr string
	isInMemory := path == ":memory:"
	if isInMemory {
		// Shared cache so multiple pooled connections see the same data.
		// WAL does not apply to in-memory databases.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// SQLite WAL supports 1 writer + N readers; cap the pool so write
		// contention doesn't pile up goroutines.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", ErrSchema)
	}

	s := &Store{db: db, path: path}
	if err := s.verifySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// verifySchema confirms the expected tables exist. A mismatch is fatal at
// startup per the error taxonomy.
func (s *Store) verifySchema(ctx context.Context) error {
	for _, table := range []string{"projects", "issues", "sync_runs"} {
		var name string
		err := s.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			return fmt.Errorf("missing table %s: %w", table, ErrSchema)
		}
	}
	return nil
}

// Close closes the database. Safe to call twice.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// WithTx runs fn inside a single transaction. Batch upserts from the
// orchestrator use this so a project's phase commits atomically.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin tx", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !strings.Contains(rbErr.Error(), "already been committed") {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return wrapDBError("commit tx", tx.Commit())
}
