package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bhandras/relay/protocol/wire"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    pubkey TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    kind INTEGER NOT NULL,
    tags JSONB NOT NULL,
    content TEXT NOT NULL,
    sig TEXT NOT NULL,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, created_at DESC);
CREATE TABLE IF NOT EXISTS event_tags (
    event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_tags_name_value ON event_tags(name, value);
CREATE INDEX IF NOT EXISTS idx_event_tags_event ON event_tags(event_id);
`

// Postgres stores events in PostgreSQL for multi-instance deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool to dsn and ensures the schema exists.
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.Ready(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("exec migration: %w", err)
	}
	return p, nil
}

// Ready checks that the database answers queries.
func (p *Postgres) Ready(ctx context.Context) error {
	var one int
	return p.pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Put implements Store.
func (p *Postgres) Put(ctx context.Context, ev *wire.Event) (PutResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Stored, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, string(encodeTags(ev.Tags)), ev.Content, ev.Sig)
	if err != nil {
		return Stored, fmt.Errorf("insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Duplicate, nil
	}

	batch := &pgx.Batch{}
	for _, t := range ev.Tags {
		if len(t) < 2 {
			continue
		}
		batch.Queue(`INSERT INTO event_tags (event_id, name, value) VALUES ($1, $2, $3)`, ev.ID, t[0], t[1])
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return Stored, fmt.Errorf("insert tags: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Stored, fmt.Errorf("commit: %w", err)
	}
	return Stored, nil
}

// Query implements Store.
func (p *Postgres) Query(ctx context.Context, filters []wire.Filter) ([]*wire.Event, error) {
	lists := make([][]*wire.Event, 0, len(filters))
	for _, f := range filters {
		query, args := buildFilterQuery(postgresDialect, f)
		rows, err := p.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		var events []*wire.Event
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			events = append(events, ev)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		lists = append(lists, events)
	}
	return Merge(lists...), nil
}

// Tombstone implements Store.
func (p *Postgres) Tombstone(ctx context.Context, id, requestedBy string) (TombstoneResult, error) {
	var (
		pubkey  string
		deleted bool
	)
	err := p.pool.QueryRow(ctx, `SELECT pubkey, deleted FROM events WHERE id = $1`, id).Scan(&pubkey, &deleted)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && deleted) {
		return TombstoneNotFound, nil
	}
	if err != nil {
		return TombstoneNotFound, fmt.Errorf("lookup event: %w", err)
	}
	if pubkey != requestedBy {
		return TombstoneUnauthorized, nil
	}
	if _, err := p.pool.Exec(ctx, `UPDATE events SET deleted = TRUE WHERE id = $1`, id); err != nil {
		return TombstoneNotFound, fmt.Errorf("tombstone event: %w", err)
	}
	return TombstoneOK, nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
