package store

import (
	"context"
	"sort"
	"sync"

	"github.com/bhandras/relay/internal/filter"
	"github.com/bhandras/relay/protocol/wire"
)

// Memory is a process-local store. It is the default backend and the one
// used by tests.
type Memory struct {
	mu      sync.RWMutex
	events  map[string]*wire.Event
	deleted map[string]struct{}
	ordered []*wire.Event
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:  make(map[string]*wire.Event),
		deleted: make(map[string]struct{}),
	}
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, ev *wire.Event) (PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; ok {
		return Duplicate, nil
	}
	if _, ok := m.deleted[ev.ID]; ok {
		return Duplicate, nil
	}
	cp := *ev
	m.events[ev.ID] = &cp

	i := sort.Search(len(m.ordered), func(i int) bool { return Newer(&cp, m.ordered[i]) })
	m.ordered = append(m.ordered, nil)
	copy(m.ordered[i+1:], m.ordered[i:])
	m.ordered[i] = &cp
	return Stored, nil
}

// Query implements Store.
func (m *Memory) Query(ctx context.Context, filters []wire.Filter) ([]*wire.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lists := make([][]*wire.Event, 0, len(filters))
	for _, f := range filters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		compiled := filter.Compile(f)
		limit := limitOf(f)
		var hits []*wire.Event
		for _, ev := range m.ordered {
			if compiled.Match(filter.NewTarget(ev)) {
				hits = append(hits, ev)
				if len(hits) >= limit {
					break
				}
			}
		}
		lists = append(lists, hits)
	}
	return Merge(lists...), nil
}

// Tombstone implements Store.
func (m *Memory) Tombstone(_ context.Context, id, requestedBy string) (TombstoneResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return TombstoneNotFound, nil
	}
	if ev.PubKey != requestedBy {
		return TombstoneUnauthorized, nil
	}
	delete(m.events, id)
	m.deleted[id] = struct{}{}
	for i, o := range m.ordered {
		if o.ID == id {
			m.ordered = append(m.ordered[:i], m.ordered[i+1:]...)
			break
		}
	}
	return TombstoneOK, nil
}

// Len returns the number of live events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
