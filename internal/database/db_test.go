package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bhandras/relay/internal/database/migrations"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	db, err := Open(path)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	require.Equal(t, len(schema), n)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	require.Equal(t, len(schema), n)
}

func TestBackfillEventTags(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig, received_at)
		VALUES ('e1', 'pk', 1, 1, '[["e","root"],["p","bob"],["x"]]', '', 'sig', 1)`)
	require.NoError(t, err)

	require.NoError(t, migrations.BackfillEventTags(db.DB))
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM event_tags WHERE event_id = 'e1'").Scan(&n))
	require.Equal(t, 2, n)

	// Idempotent once rows exist.
	require.NoError(t, migrations.BackfillEventTags(db.DB))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM event_tags").Scan(&n))
	require.Equal(t, 2, n)
}

func TestCompactDeleted(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig, deleted, received_at)
		VALUES ('gone', 'pk', 1, 1, '[["e","root"]]', 'secret', 'sig', 1, 1),
		       ('kept', 'pk', 2, 1, '[["e","root"]]', 'public', 'sig', 0, 1)`)
	require.NoError(t, err)
	require.NoError(t, migrations.BackfillEventTags(db.DB))

	n, err := CompactDeleted(context.Background(), db.DB)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var content string
	require.NoError(t, db.QueryRow("SELECT content FROM events WHERE id = 'gone'").Scan(&content))
	require.Empty(t, content)
	require.NoError(t, db.QueryRow("SELECT content FROM events WHERE id = 'kept'").Scan(&content))
	require.Equal(t, "public", content)

	var tags int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM event_tags").Scan(&tags))
	require.Equal(t, 1, tags)

	// Nothing left to do the second time.
	n, err = CompactDeleted(context.Background(), db.DB)
	require.NoError(t, err)
	require.Zero(t, n)
}
