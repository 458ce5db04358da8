package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/bhandras/relay/internal/filter"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/bhandras/relay/protocol/wire"
	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	ev/<id>                 event JSON
//	ix/<^created_at><id>    newest-first time index (empty value)
//	del/<id>                tombstone marker, value is the requester
var (
	prefixEvent     = []byte("ev/")
	prefixIndex     = []byte("ix/")
	prefixTombstone = []byte("del/")
)

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
}

// Badger stores events in an embedded badger key-value store.
type Badger struct {
	db *badger.DB

	stop chan struct{}
	wg   sync.WaitGroup
}

// badgerLogger adapts the relay logger to badger's Logger interface.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Errorf("[store] badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warnf("[store] badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debugf("[store] badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Tracef("[store] badger: "+format, args...)
}

// OpenBadger opens the badger store described by cfg.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Badger{db: db, stop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.wg.Add(1)
		go b.gcLoop(cfg.GCInterval)
	}
	return b, nil
}

func (b *Badger) gcLoop(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			for {
				if err := b.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						logger.Warnf("[store] badger gc: %v", err)
					}
					break
				}
			}
		}
	}
}

func eventKey(id string) []byte {
	return append(append([]byte{}, prefixEvent...), id...)
}

func tombstoneKey(id string) []byte {
	return append(append([]byte{}, prefixTombstone...), id...)
}

func invertTime(createdAt int64) uint64 {
	if createdAt < 0 {
		createdAt = 0
	}
	return math.MaxUint64 - uint64(createdAt)
}

func indexKey(createdAt int64, id string) []byte {
	k := make([]byte, 0, len(prefixIndex)+8+len(id))
	k = append(k, prefixIndex...)
	k = binary.BigEndian.AppendUint64(k, invertTime(createdAt))
	return append(k, id...)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// update retries transactions that lose an optimistic conflict.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Put implements Store.
func (b *Badger) Put(_ context.Context, ev *wire.Event) (PutResult, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return Stored, fmt.Errorf("encode event: %w", err)
	}

	result := Stored
	err = b.update(func(txn *badger.Txn) error {
		result = Stored
		for _, key := range [][]byte{eventKey(ev.ID), tombstoneKey(ev.ID)} {
			found, err := exists(txn, key)
			if err != nil {
				return err
			}
			if found {
				result = Duplicate
				return nil
			}
		}
		if err := txn.Set(eventKey(ev.ID), raw); err != nil {
			return err
		}
		return txn.Set(indexKey(ev.CreatedAt, ev.ID), nil)
	})
	if err != nil {
		return Stored, fmt.Errorf("put event: %w", err)
	}
	return result, nil
}

func loadEvent(txn *badger.Txn, id string) (*wire.Event, error) {
	item, err := txn.Get(eventKey(id))
	if err != nil {
		return nil, err
	}
	var ev wire.Event
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ev)
	})
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", id, err)
	}
	return &ev, nil
}

// Query implements Store.
func (b *Badger) Query(ctx context.Context, filters []wire.Filter) ([]*wire.Event, error) {
	lists := make([][]*wire.Event, 0, len(filters))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, f := range filters {
			hits, err := b.queryFilter(ctx, txn, f)
			if err != nil {
				return err
			}
			lists = append(lists, hits)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return Merge(lists...), nil
}

func (b *Badger) queryFilter(ctx context.Context, txn *badger.Txn, f wire.Filter) ([]*wire.Event, error) {
	compiled := filter.Compile(f)
	limit := limitOf(f)

	if f.IDs != nil {
		var hits []*wire.Event
		for _, id := range f.IDs {
			ev, err := loadEvent(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if compiled.Match(filter.NewTarget(ev)) {
				hits = append(hits, ev)
			}
		}
		hits = Merge(hits)
		if len(hits) > limit {
			hits = hits[:limit]
		}
		return hits, nil
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefixIndex
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append([]byte{}, prefixIndex...)
	if f.Until != nil {
		seek = binary.BigEndian.AppendUint64(seek, invertTime(*f.Until))
	}

	var hits []*wire.Event
	for it.Seek(seek); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := it.Item().Key()
		inverted := binary.BigEndian.Uint64(key[len(prefixIndex) : len(prefixIndex)+8])
		createdAt := int64(math.MaxUint64 - inverted)
		if f.Since != nil && createdAt < *f.Since {
			break
		}
		id := string(key[len(prefixIndex)+8:])
		ev, err := loadEvent(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if compiled.Match(filter.NewTarget(ev)) {
			hits = append(hits, ev)
			if len(hits) >= limit {
				break
			}
		}
	}
	return hits, nil
}

// Tombstone implements Store.
func (b *Badger) Tombstone(_ context.Context, id, requestedBy string) (TombstoneResult, error) {
	result := TombstoneNotFound
	err := b.update(func(txn *badger.Txn) error {
		result = TombstoneNotFound
		ev, err := loadEvent(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.PubKey != requestedBy {
			result = TombstoneUnauthorized
			return nil
		}
		if err := txn.Delete(eventKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(ev.CreatedAt, id)); err != nil {
			return err
		}
		if err := txn.Set(tombstoneKey(id), []byte(requestedBy)); err != nil {
			return err
		}
		result = TombstoneOK
		return nil
	})
	if err != nil {
		return TombstoneNotFound, fmt.Errorf("tombstone event: %w", err)
	}
	return result, nil
}

// Close implements Store.
func (b *Badger) Close() error {
	close(b.stop)
	b.wg.Wait()
	return b.db.Close()
}
