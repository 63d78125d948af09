// Package sqlstore keeps the ledger and delivery journal in SQLite or
// Postgres. Expired rows are hidden on read and removed by Purge.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"dispatch/internal/core"
	"dispatch/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package globals.
var migrateMu sync.Mutex

const journalRetention = 30 * 24 * time.Hour

func init() {
	storage.RegisterFactory("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return OpenSQLite(cfg.Path)
	})
	storage.RegisterFactory("postgres", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return OpenPostgres(cfg.DSN)
	})
}

type Store struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	now     func() time.Time
	journal *journalStore
}

type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func OpenSQLite(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: database path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	}

	slog.Info("Opening SQLite storage", "path", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection also keeps an
	// in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return newStore(db, "sqlite3", sq.Question, opts...)
}

func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}

	slog.Info("Opening Postgres storage")
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newStore(db, "postgres", sq.Dollar, opts...)
}

func newStore(db *sqlx.DB, dialect string, placeholder sq.PlaceholderFormat, opts ...Option) (*Store, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db.DB, dialect); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.journal = &journalStore{db: db, builder: s.builder}

	slog.Info("Storage initialized successfully", "dialect", dialect)
	return s, nil
}

func runMigrations(db *sql.DB, dialect string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	slog.Debug("Running database migrations", "dialect", dialect)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("Migrations completed successfully")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Journal() core.Journal {
	return s.journal
}

// Purge deletes expired ledger rows and journal entries past retention.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	now := s.now()

	query, args, err := s.builder.Delete("ledger_entries").
		Where(sq.LtOrEq{"expires_at": now.UnixMilli()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}

	purged, _ := result.RowsAffected()

	if err := s.journal.deleteOlderThan(ctx, now.Add(-journalRetention)); err != nil {
		return purged, err
	}

	slog.Debug("Purged expired ledger entries", "count", purged)
	return purged, nil
}
