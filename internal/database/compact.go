package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bhandras/relay/pkg/logger"
)

// CompactDeleted drops the payload and tag rows of tombstoned events. The id
// row stays so a deleted event cannot be published again.
func CompactDeleted(ctx context.Context, db *sql.DB) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM event_tags
		WHERE event_id IN (SELECT id FROM events WHERE deleted = 1)`); err != nil {
		return 0, fmt.Errorf("delete tags: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE events SET content = '', tags = '[]', sig = ''
		WHERE deleted = 1 AND (content != '' OR tags != '[]' OR sig != '')`)
	if err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	n, _ := res.RowsAffected()
	logger.Infof("[database] compacted %d deleted events", n)
	return n, nil
}
