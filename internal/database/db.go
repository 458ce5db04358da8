// Package database opens the embedded SQLite database used by the sqlite
// event store and keeps its schema current.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/bhandras/relay/internal/database/migrations"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// DriverName is the sqlite3 driver registered with the Unicode-aware
// lower() replacement used by content search.
const DriverName = "sqlite3_relay"

// LowerFunc is the SQL function name that lowercases with Go's Unicode
// case mapping. SQLite's built-in LOWER only folds ASCII.
const LowerFunc = "relay_lower"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(LowerFunc, strings.ToLower, true)
		},
	})
}

// DB wraps the SQLite handle shared by the event store and the CLI
// maintenance commands.
type DB struct {
	*sql.DB
}

type migration struct {
	version string
	file    string
	apply   func(*sql.DB) error
}

// Migrations run in order and are recorded in schema_migrations.
var schema = []migration{
	{version: "001_initial", file: "migrations/001_initial.sql"},
	{version: "002_backfill_event_tags", apply: migrations.BackfillEventTags},
}

// Open opens a connection to the SQLite database and runs migrations.
// Use ":memory:" for a throwaway database.
func Open(dbPath string) (*DB, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db}, nil
}

// runMigrations applies every migration not yet recorded.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range schema {
		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}

		if m.file != "" {
			migrationSQL, err := schemaFS.ReadFile(m.file)
			if err != nil {
				return fmt.Errorf("failed to read migration file: %w", err)
			}
			if _, err := db.Exec(string(migrationSQL)); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
			}
		}
		if m.apply != nil {
			if err := m.apply(db); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
			}
		}

		_, err = db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version)
		if err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		logger.Infof("[Migration] applied %s", m.version)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
