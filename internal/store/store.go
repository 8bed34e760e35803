// Package store provides the single relational store backing the
// engine's monitored folders, screening results, tags, sessions,
// provider configuration and config-change queue. It is the one
// SQLite file per data root; vector chunks live in the separate
// vectorstore package.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/retry"
)

// Config configures the relational store.
type Config struct {
	DatabasePath string
	DataRoot     string // directory holding the sealing key file
	BusyRetry    *retry.Config
}

// DefaultConfig returns sane defaults, grounded on the teacher's
// PersistenceConfig connection-pool and WAL settings.
func DefaultConfig(dataRoot string) *Config {
	return &Config{
		DatabasePath: dataRoot + "/engine.db",
		DataRoot:     dataRoot,
		BusyRetry:    retry.ExponentialBackoff(5),
	}
}

// Store is the engine's relational store: one *sql.DB, one file,
// opened in WAL mode and limited to a single open connection, so reads
// and writes are serialized through it.
type Store struct {
	db      *sql.DB
	cfg     *Config
	retrier *retry.Retrier
	sealer  *keySealer
	mu      sync.RWMutex // guards nothing shared beyond db; kept for future fields
}

// Open opens (creating if absent) the SQLite database at cfg.DatabasePath
// and applies the schema migrations.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store: nil config")
	}
	dsn := cfg.DatabasePath + "?_journal_mode=WAL&_sync=NORMAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // one connection: readers and the writer take turns on it
	db.SetConnMaxLifetime(time.Hour)

	sealer, err := newKeySealer(cfg.DataRoot)
	if err != nil {
		db.Close()
		return nil, err
	}

	busyRetry := retry.DefaultConfig()
	if cfg.BusyRetry != nil {
		c := *cfg.BusyRetry
		busyRetry = &c
	}
	busyRetry.RetryIf = func(err error) bool { return enginetypes.IsKind(err, enginetypes.ErrBusy) }

	s := &Store{
		db:      db,
		cfg:     cfg,
		retrier: retry.New(busyRetry),
		sealer:  sealer,
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, retrying the whole transaction
// on SQLITE_BUSY per s.cfg.BusyRetry, grounded on the teacher's
// EventStore flushBatch transaction pattern.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	result := s.retrier.Do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classifyErr("begin_tx", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return classifyErr("commit", err)
		}
		return nil
	})
	return result.Err
}

// classifyErr maps a raw sql/sqlite3 error into an enginetypes.StoreError.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return enginetypes.NewStoreError(op, enginetypes.ErrNotFound, err)
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "database is locked", "SQLITE_BUSY"):
		return enginetypes.NewStoreError(op, enginetypes.ErrBusy, err)
	case containsAny(msg, "UNIQUE constraint failed", "constraint failed"):
		return enginetypes.NewStoreError(op, enginetypes.ErrConflict, err)
	default:
		return enginetypes.NewStoreError(op, enginetypes.ErrFatal, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
