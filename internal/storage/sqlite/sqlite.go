// Package sqlite implements the storage ports on an embedded SQLite
// database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xenking/caremeds/db"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// DB wraps a SQLite handle. It is limited to one connection, which also
// serialises order placement transactions.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := sqlDB.ExecContext(ctx, db.SQLiteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &DB{db: sqlDB}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Catalog returns the catalog repository.
func (d *DB) Catalog() *CatalogRepository { return &CatalogRepository{db: d.db} }

// Orders returns the order store.
func (d *DB) Orders() *OrderStore { return &OrderStore{db: d.db} }

// Accounts returns the account repository.
func (d *DB) Accounts() *AccountRepository { return &AccountRepository{db: d.db} }

// APIKeys returns the API key repository.
func (d *DB) APIKeys() *APIKeyRepository { return &APIKeyRepository{db: d.db} }

type scanner interface {
	Scan(dest ...any) error
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }
