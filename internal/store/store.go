// Package store defines the durable event store contract and its backends.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/bhandras/relay/protocol/wire"
)

// PutResult is the outcome of storing an event.
type PutResult int

const (
	// Stored means the event was new and is now durable.
	Stored PutResult = iota
	// Duplicate means an event with the same id already exists or was
	// tombstoned.
	Duplicate
)

func (r PutResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "stored"
}

// TombstoneResult is the outcome of a deletion request.
type TombstoneResult int

const (
	// TombstoneOK means the event is now hidden from queries.
	TombstoneOK TombstoneResult = iota
	// TombstoneUnauthorized means the requester is not the event author.
	TombstoneUnauthorized
	// TombstoneNotFound means no live event has that id.
	TombstoneNotFound
)

func (r TombstoneResult) String() string {
	switch r {
	case TombstoneOK:
		return "ok"
	case TombstoneUnauthorized:
		return "unauthorized"
	default:
		return "not-found"
	}
}

// DefaultQueryLimit applies to filters that reach a backend without a limit.
const DefaultQueryLimit = 500

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Store persists events and answers filter queries.
type Store interface {
	// Put stores ev unless an event with the same id exists.
	Put(ctx context.Context, ev *wire.Event) (PutResult, error)
	// Query returns events matching any filter, newest first, without
	// duplicates. Each filter contributes at most its Limit events.
	Query(ctx context.Context, filters []wire.Filter) ([]*wire.Event, error)
	// Tombstone hides the event with the given id if requestedBy authored
	// it.
	Tombstone(ctx context.Context, id, requestedBy string) (TombstoneResult, error)
	// Close releases backend resources.
	Close() error
}

func limitOf(f wire.Filter) int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

// Newer orders events newest first, breaking ties by ascending id.
func Newer(a, b *wire.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

// Merge combines per-filter results into one newest-first list without
// duplicate ids.
func Merge(lists ...[]*wire.Event) []*wire.Event {
	seen := make(map[string]struct{})
	var out []*wire.Event
	for _, list := range lists {
		for _, ev := range list {
			if _, ok := seen[ev.ID]; ok {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Newer(out[i], out[j]) })
	return out
}
