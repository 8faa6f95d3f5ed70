// Package postgres provides a PostgreSQL-backed metadata backend. The schema
// is managed with embedded goose migrations applied on open.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/gezibash/drop/internal/metastore/physical"
	"github.com/gezibash/drop/internal/storage"
)

const (
	KeyDSN          = "dsn"
	KeyMaxOpenConns = "max_open_conns"
	KeyConnTimeout  = "connect_timeout"
)

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	physical.Register("postgres", NewFactory, Defaults)
}

// Defaults returns the default configuration for the PostgreSQL backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyMaxOpenConns: "10",
		KeyConnTimeout:  "10s",
	}
}

// NewFactory creates a new PostgreSQL backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	if _, err := storage.Require("postgres", config, KeyDSN); err != nil {
		return nil, err
	}
	maxOpen, err := storage.GetInt(config, KeyMaxOpenConns, 10)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("postgres", KeyMaxOpenConns, config[KeyMaxOpenConns], err.Error())
	}
	timeout, err := storage.GetDuration(config, KeyConnTimeout, 10*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("postgres", KeyConnTimeout, config[KeyConnTimeout], err.Error())
	}

	db, err := sql.Open("pgx", config[KeyDSN])
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("postgres", KeyDSN, "failed to open database", err)
	}
	db.SetMaxOpenConns(maxOpen)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("postgres", KeyDSN, "failed to connect", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("postgres", KeyDSN, "failed to run migrations", err)
	}

	slog.Info("postgres metastore initialized")
	return NewWithDB(db), nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Backend is a PostgreSQL implementation of physical.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewWithDB creates a backend over a migrated database.
func NewWithDB(db *sql.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	var val []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM drop_kv WHERE key = $1`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return val, nil
}

func (b *Backend) Put(ctx context.Context, entries ...physical.Entry) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres put: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO drop_kv (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			e.Key, e.Value,
		); err != nil {
			return fmt.Errorf("postgres put: %w", err)
		}
	}
	return tx.Commit()
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM drop_kv WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if b.closed.Load() {
		return false, physical.ErrClosed
	}
	var ok bool
	if err := b.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM drop_kv WHERE key = $1)`, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres exists: %w", err)
	}
	return ok, nil
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
