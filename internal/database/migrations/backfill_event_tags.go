package migrations

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/bhandras/relay/pkg/logger"
)

// BackfillEventTags rebuilds event_tags rows for events that have tags but
// no index rows, e.g. rows bulk-imported straight into the events table.
func BackfillEventTags(db *sql.DB) error {
	ctx := context.Background()

	rows, err := db.QueryContext(ctx, `
		SELECT e.id, e.tags FROM events e
		WHERE e.tags != '[]'
		  AND NOT EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = e.id)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type item struct {
		id   string
		tags string
	}
	var items []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.id, &it.tags); err != nil {
			return err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	logger.Infof("[Migration] Found %d events without tag index rows", len(items))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO event_tags (event_id, name, value) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		var tags [][]string
		if err := json.Unmarshal([]byte(it.tags), &tags); err != nil {
			logger.Warnf("[Migration] event %s has unreadable tags: %v", it.id, err)
			continue
		}
		for _, tag := range tags {
			if len(tag) < 2 {
				continue
			}
			if _, err := stmt.ExecContext(ctx, it.id, tag[0], tag[1]); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}
