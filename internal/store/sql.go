package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bhandras/relay/internal/database"
	"github.com/bhandras/relay/protocol/wire"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	placeholder func(n int) string
	lower       string
	like        string
	falseValue  string
}

var (
	sqliteDialect = dialect{
		placeholder: func(int) string { return "?" },
		lower:       database.LowerFunc,
		like:        "LIKE",
		falseValue:  "0",
	}
	postgresDialect = dialect{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		lower:       "LOWER",
		like:        "ILIKE",
		falseValue:  "FALSE",
	}
)

const selectColumns = `SELECT e.id, e.pubkey, e.created_at, e.kind, e.tags, e.content, e.sig FROM events e`

type queryBuilder struct {
	d     dialect
	where []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

func (b *queryBuilder) in(column string, values []any) {
	if len(values) == 0 {
		b.where = append(b.where, "1 = 0")
		return
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = b.arg(v)
	}
	b.where = append(b.where, fmt.Sprintf("%s IN (%s)", column, strings.Join(ph, ", ")))
}

func strArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// escapeLike escapes LIKE wildcards so search terms match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// buildFilterQuery renders one filter as a SELECT over events joined with
// event_tags. Tombstoned rows are always excluded.
func buildFilterQuery(d dialect, f wire.Filter) (string, []any) {
	b := &queryBuilder{d: d, where: []string{"e.deleted = " + d.falseValue}}

	if f.IDs != nil {
		b.in("e.id", strArgs(f.IDs))
	}
	if f.Authors != nil {
		b.in("e.pubkey", strArgs(f.Authors))
	}
	if f.Kinds != nil {
		kinds := make([]any, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = k
		}
		b.in("e.kind", kinds)
	}
	if f.Since != nil {
		b.where = append(b.where, "e.created_at >= "+b.arg(*f.Since))
	}
	if f.Until != nil {
		b.where = append(b.where, "e.created_at <= "+b.arg(*f.Until))
	}

	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := f.Tags[name]
		if len(values) == 0 {
			b.where = append(b.where, "1 = 0")
			continue
		}
		nameArg := b.arg(name)
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = b.arg(v)
		}
		b.where = append(b.where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = e.id AND t.name = %s AND t.value IN (%s))",
			nameArg, strings.Join(ph, ", ")))
	}

	for _, term := range strings.Fields(strings.ToLower(f.Search)) {
		b.where = append(b.where, fmt.Sprintf(`%s(e.content) %s %s ESCAPE '\'`, d.lower, d.like, b.arg("%"+escapeLike(term)+"%")))
	}

	query := selectColumns + " WHERE " + strings.Join(b.where, " AND ") +
		" ORDER BY e.created_at DESC, e.id ASC LIMIT " + b.arg(limitOf(f))
	return query, b.args
}

// rowScanner is satisfied by *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*wire.Event, error) {
	var (
		ev   wire.Event
		tags []byte
	)
	if err := row.Scan(&ev.ID, &ev.PubKey, &ev.CreatedAt, &ev.Kind, &tags, &ev.Content, &ev.Sig); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &ev.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", ev.ID, err)
	}
	if ev.Tags == nil {
		ev.Tags = wire.Tags{}
	}
	return &ev, nil
}

func encodeTags(tags wire.Tags) []byte {
	if tags == nil {
		tags = wire.Tags{}
	}
	raw, _ := json.Marshal(tags)
	return raw
}
