// Package sqlite persists the catalog, the stock ledger and the cache
// profiles in a single SQLite database (modernc.org/sqlite, no cgo).
//
// Write transactions start with BEGIN IMMEDIATE, so concurrent checkouts
// serialize on the database write lock; busy_timeout is the lock wait
// window after which SQLITE_BUSY surfaces as checkout.ErrContention.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/profile"
	"github.com/VitorFirmino/cachelab/storage/sqlite/migrations"
)

const DefaultBusyTimeout = 5 * time.Second

type Options struct {
	// BusyTimeout is how long a writer waits for the lock. 0 => 5s.
	BusyTimeout time.Duration
	// SkipMigrations opens the database as is.
	SkipMigrations bool
	Logger         cachelab.Logger
	Now            func() time.Time
}

type Store struct {
	db  *sql.DB
	log cachelab.Logger
	now func() time.Time
}

var (
	_ profile.Repository = (*Store)(nil)
	_ catalog.Reader     = (*Store)(nil)
	_ catalog.Writer     = (*Store)(nil)
	_ checkout.Ledger    = (*Store)(nil)
)

// DSN builds the connection string for a database file.
func DSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(filepath.Clean(path)) + "?" + q.Encode()
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: storage path is required")
	}
	db, err := sql.Open("sqlite", DSN(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{
		db:  db,
		log: cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "sqlite"}),
		now: opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if !opts.SkipMigrations {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	applied, err := applyMigrations(ctx, s.db, migrations.FS, s.now)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if len(applied) > 0 {
		s.log.Info("sqlite.migrated", cachelab.Fields{"applied": applied})
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx commits when fn returns nil and rolls back otherwise.
func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
