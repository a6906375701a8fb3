package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/kvmigrate/pkg/storage"
	"github.com/cuemby/kvmigrate/pkg/types"
)

type memEntry struct {
	value []byte
	ttl   time.Duration // storage.TTLNoExpiry when unset
}

// memStore is an in-memory storage.Store with failure injection hooks
type memStore struct {
	mu   sync.Mutex
	data map[string]memEntry

	pingErr   error
	pingBlock chan struct{}
	scanErr   error
	dumpErr   map[string]error
	vanish    map[string]bool // exists but dump returns nil
	execErr   func(keys []string) error
	execBlock chan struct{}
	emptyPage bool // first scan step returns no keys with a live cursor

	scanCalls atomic.Int64
	execCalls atomic.Int64
	deletes   atomic.Int64
	closed    atomic.Bool
}

func newMemStore() *memStore {
	return &memStore{
		data:    make(map[string]memEntry),
		dumpErr: make(map[string]error),
		vanish:  make(map[string]bool),
	}
}

func (s *memStore) set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memEntry{value: []byte(value), ttl: ttl}
}

func (s *memStore) get(key string) (memEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	return e, ok
}

func (s *memStore) Ping(ctx context.Context) error {
	if s.pingBlock != nil {
		<-s.pingBlock
	}
	return s.pingErr
}

func (s *memStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	calls := s.scanCalls.Add(1)
	if s.scanErr != nil {
		return nil, 0, s.scanErr
	}
	if s.emptyPage && calls == 1 {
		return nil, 1, nil
	}
	if s.emptyPage && cursor > 0 {
		cursor--
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)

	start := int(cursor)
	if start > len(keys) {
		start = len(keys)
	}
	end := start + int(count)
	if end > len(keys) {
		end = len(keys)
	}
	page := keys[start:end]

	var next uint64
	if end < len(keys) {
		next = uint64(end)
		if s.emptyPage {
			next++
		}
	}
	return page, next, nil
}

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := s.get(key)
	return ok, nil
}

func (s *memStore) Dump(ctx context.Context, key string) ([]byte, error) {
	if err := s.dumpErr[key]; err != nil {
		return nil, err
	}
	if s.vanish[key] {
		return nil, nil
	}
	e, ok := s.get(key)
	if !ok {
		return nil, nil
	}
	return append([]byte{}, e.value...), nil
}

func (s *memStore) PTTL(ctx context.Context, key string) (time.Duration, error) {
	e, ok := s.get(key)
	if !ok {
		return storage.TTLMissing, nil
	}
	return e.ttl, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.deletes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) NewBatch() storage.Batch {
	return &memBatch{store: s}
}

func (s *memStore) Close() error {
	s.closed.Store(true)
	return nil
}

type memOp struct {
	key   string
	ttl   time.Duration
	value []byte
}

type memBatch struct {
	store *memStore
	ops   []memOp
}

func (b *memBatch) Restore(ctx context.Context, key string, ttl time.Duration, value []byte) {
	b.ops = append(b.ops, memOp{key: key, ttl: ttl, value: value})
}

func (b *memBatch) Len() int { return len(b.ops) }

func (b *memBatch) Exec(ctx context.Context) error {
	s := b.store
	s.execCalls.Add(1)
	if s.execBlock != nil {
		<-s.execBlock
	}
	if s.execErr != nil {
		keys := make([]string, len(b.ops))
		for i, op := range b.ops {
			keys[i] = op.key
		}
		if err := s.execErr(keys); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range b.ops {
		if _, ok := s.data[op.key]; ok {
			return &storage.ProtocolError{Op: "restore", Err: storage.ErrBusyKey}
		}
		ttl := op.ttl
		if ttl == 0 {
			ttl = storage.TTLNoExpiry
		}
		s.data[op.key] = memEntry{value: op.value, ttl: ttl}
	}
	return nil
}

// openerFor returns an Opener serving fixed stores per database
func openerFor(stores map[types.LogicalDatabase]*memStore) storage.Opener {
	return func(db types.LogicalDatabase) (storage.Store, error) {
		s, ok := stores[db]
		if !ok {
			return nil, fmt.Errorf("no store for db %d", db)
		}
		return s, nil
	}
}

// failOn fails any batch that contains key
func failOn(key string) func([]string) error {
	return func(keys []string) error {
		for _, k := range keys {
			if k == key {
				return &storage.ProtocolError{Op: "pipeline exec", Err: errors.New("ERR injected failure")}
			}
		}
		return nil
	}
}
