package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Column spellings that differ between the two engines
var columnTypes = map[Dialect]*strings.Replacer{
	DialectSQLite: strings.NewReplacer(
		"{int}", "INTEGER",
		"{real}", "REAL",
		"{bool}", "INTEGER",
		"{false}", "0",
		"{serial}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{time}", "DATETIME",
		"{now}", "CURRENT_TIMESTAMP",
	),
	DialectPostgres: strings.NewReplacer(
		"{int}", "BIGINT",
		"{real}", "DOUBLE PRECISION",
		"{bool}", "BOOLEAN",
		"{false}", "FALSE",
		"{serial}", "BIGSERIAL PRIMARY KEY",
		"{time}", "TIMESTAMP",
		"{now}", "NOW()",
	),
}

// schema is applied on every open; each statement is idempotent.
// places.doc_id is NULL until a place has a remote id.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		timestamp {int} NOT NULL,
		latitude {real} NOT NULL,
		longitude {real} NOT NULL,
		username TEXT NOT NULL,
		session_id TEXT,
		background {bool} NOT NULL DEFAULT {false},
		synchronized {bool} NOT NULL DEFAULT {false}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_timestamp ON locations(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_synchronized ON locations(synchronized)`,
	`CREATE TABLE IF NOT EXISTS places (
		row_id {serial},
		doc_id TEXT UNIQUE,
		name TEXT NOT NULL,
		latitude {real} NOT NULL,
		longitude {real} NOT NULL,
		timestamp {int} NOT NULL,
		synchronized {bool} NOT NULL DEFAULT {false}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_places_timestamp ON places(timestamp)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		name TEXT PRIMARY KEY,
		last_cursor TEXT NOT NULL,
		updated_at {time} NOT NULL DEFAULT {now}
	)`,
}

// OpenSQLite opens the on-device database at path, creating it if needed.
// ":memory:" gives a private database, which tests use.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeErr("open sqlite", err)
	}
	// One connection keeps ":memory:" shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, storeErr("open sqlite", err)
	}
	return initStore(ctx, db, DialectSQLite)
}

// OpenPostgres connects to a shared PostgreSQL database
func OpenPostgres(ctx context.Context, url string) (*SQLStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, storeErr("open postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeErr("open postgres", err)
	}
	return initStore(ctx, db, DialectPostgres)
}

func initStore(ctx context.Context, db *sql.DB, d Dialect) (*SQLStore, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, storeErr("migrate", err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, columnTypes[d].Replace(stmt)); err != nil {
			tx.Rollback()
			db.Close()
			return nil, storeErr("migrate", fmt.Errorf("statement %d: %w", i+1, err))
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, storeErr("migrate", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return storeErr("ping", s.db.PingContext(ctx))
}

// Close releases the database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}
