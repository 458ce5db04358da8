package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bhandras/relay/internal/database"
	"github.com/bhandras/relay/protocol/wire"
)

// SQLite stores events in an embedded SQLite database.
type SQLite struct {
	db  *database.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, ev *wire.Event) (PutResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Stored, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, pubkey, created_at, kind, tags, content, sig, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, string(encodeTags(ev.Tags)), ev.Content, ev.Sig, s.now().Unix())
	if err != nil {
		return Stored, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Stored, fmt.Errorf("insert event: %w", err)
	}
	if n == 0 {
		return Duplicate, nil
	}

	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_tags (event_id, name, value) VALUES (?, ?, ?)`,
			ev.ID, tag[0], tag[1]); err != nil {
			return Stored, fmt.Errorf("insert tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Stored, fmt.Errorf("commit: %w", err)
	}
	return Stored, nil
}

// Query implements Store.
func (s *SQLite) Query(ctx context.Context, filters []wire.Filter) ([]*wire.Event, error) {
	lists := make([][]*wire.Event, 0, len(filters))
	for _, f := range filters {
		query, args := buildFilterQuery(sqliteDialect, f)
		events, err := s.query(ctx, query, args)
		if err != nil {
			return nil, err
		}
		lists = append(lists, events)
	}
	return Merge(lists...), nil
}

func (s *SQLite) query(ctx context.Context, query string, args []any) ([]*wire.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*wire.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Tombstone implements Store.
func (s *SQLite) Tombstone(ctx context.Context, id, requestedBy string) (TombstoneResult, error) {
	var (
		pubkey  string
		deleted bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT pubkey, deleted FROM events WHERE id = ?`, id).Scan(&pubkey, &deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return TombstoneNotFound, nil
	}
	if err != nil {
		return TombstoneNotFound, fmt.Errorf("lookup event: %w", err)
	}
	if pubkey != requestedBy {
		return TombstoneUnauthorized, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE events SET deleted = 1 WHERE id = ?`, id); err != nil {
		return TombstoneNotFound, fmt.Errorf("tombstone event: %w", err)
	}
	return TombstoneOK, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Compact clears the payload of tombstoned events.
func (s *SQLite) Compact(ctx context.Context) (int64, error) {
	return database.CompactDeleted(ctx, s.db.DB)
}
