// Package sqlite implements the per-user store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/tminus/tminus/internal/storage"
)

// Store implements storage.Store for one user's database file.
type Store struct {
	db     *sql.DB
	dbPath string
	lock   *flock.Flock
	closed atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// setupWASMCache configures WASM compilation caching so SQLite startup costs
// ~20ms instead of ~220ms after the first run. Falls back to an in-memory
// cache when the filesystem cache cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "tminus", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// memdbSeq names in-memory databases uniquely so two :memory: stores in one
// process do not share state through the shared cache.
var memdbSeq atomic.Int64

// connString builds the SQLite URI for path. In-memory databases use shared
// cache so pooled connections see the same data.
func connString(path string) string {
	if path == ":memory:" {
		name := fmt.Sprintf("memdb%d", memdbSeq.Add(1))
		return "file:" + name + "?mode=memory&cache=shared&_txlock=immediate&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}
	if strings.HasPrefix(path, "file:") {
		if !strings.Contains(path, "_pragma=foreign_keys") {
			return path + "&_txlock=immediate&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
		return path
	}
	return "file:" + path + "?_txlock=immediate&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
}

// New opens (or creates) the per-user database at path, acquires the
// single-writer lock file, initializes the schema, and applies pending
// migrations. A schema probe failure after migration triggers one retry of
// the migration step before giving up.
func New(ctx context.Context, path string) (*Store, error) {
	isMemory := path == ":memory:" || (strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))

	var lock *flock.Flock
	if !isMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// The lock file enforces one writer process per user database.
		lock = flock.New(path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire database lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("database %s is locked by another process", path)
		}
	}

	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		unlockQuiet(lock)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isMemory {
		// In-memory databases are isolated per connection by default.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports one writer plus concurrent readers; the actor is the
		// sole writer, analytics reads share the pool.
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			closeQuiet(db, lock)
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		closeQuiet(db, lock)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		closeQuiet(db, lock)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		closeQuiet(db, lock)
		return nil, err
	}

	// A missing required table after migration means "migration not
	// applied": retry the migration step once before failing.
	if err := verifySchemaCompatibility(db); err != nil {
		if retryErr := RunMigrations(db); retryErr != nil {
			closeQuiet(db, lock)
			return nil, fmt.Errorf("migration retry failed after schema probe failure: %w (original: %w)", retryErr, err)
		}
		if err := verifySchemaCompatibility(db); err != nil {
			closeQuiet(db, lock)
			return nil, fmt.Errorf("schema probe failed after migration retry: %w", err)
		}
	}

	absPath := path
	if !isMemory {
		if absPath, err = filepath.Abs(path); err != nil {
			closeQuiet(db, lock)
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &Store{db: db, dbPath: absPath, lock: lock}, nil
}

func unlockQuiet(lock *flock.Flock) {
	if lock != nil {
		_ = lock.Unlock()
	}
}

func closeQuiet(db *sql.DB, lock *flock.Flock) {
	_ = db.Close()
	unlockQuiet(lock)
}

// verifySchemaCompatibility probes for required tables. Schema drift where a
// required table is missing is treated as "migration not applied".
func verifySchemaCompatibility(db *sql.DB) error {
	required := []string{
		"canonical_events", "event_mirrors", "policy_edges", "constraints",
		"journal", "relationships", "ledger", "milestones",
		"event_participants", "scheduling_sessions", "holds", "schema_migrations",
	}
	for _, table := range required {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			return fmt.Errorf("required table %q missing: %w", table, err)
		}
	}
	return nil
}

// Close checkpoints the WAL, closes the database and releases the writer
// lock.
func (s *Store) Close() error {
	s.closed.Store(true)
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	unlockQuiet(s.lock)
	return err
}

// Path returns the absolute path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// Migrations returns the applied migration names in apply order.
func (s *Store) Migrations() ([]string, error) {
	return AppliedMigrations(s.db)
}

// querier is satisfied by both *sql.DB and *sql.Tx so every row-level helper
// works inside and outside explicit transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// storeTx implements storage.Tx over an open *sql.Tx.
type storeTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*storeTx)(nil)

// RunInTransaction executes fn atomically. The connection string's
// _txlock=immediate acquires the write lock up front, serializing
// concurrent transactions instead of deadlocking on lock upgrade.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&storeTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// now returns the wall clock truncated to milliseconds; sub-millisecond
// precision round-trips inconsistently through SQLite datetime text.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
