package store

import (
	"context"
	"fmt"
	"time"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config selects and configures a backend.
type Config struct {
	// Driver is one of memory, sqlite, postgres or badger.
	Driver string `yaml:"driver"`
	// Path is the sqlite file or badger directory.
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`
	// SyncWrites makes badger fsync every commit.
	SyncWrites bool `yaml:"sync_writes"`
}

// Open builds the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(cfg.Path)
	case DriverPostgres:
		return ConnectPostgres(ctx, cfg.DSN)
	case DriverBadger:
		return OpenBadger(BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			GCInterval: 5 * time.Minute,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
