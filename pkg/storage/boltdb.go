package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/gobwas/glob"
	bolt "go.etcd.io/bbolt"
)

// headerSize is the expiry deadline prefix stored in front of every value
const headerSize = 8

// boltFiles shares one *bolt.DB per path; bbolt holds an exclusive file lock
// so every logical database of a snapshot goes through the same handle.
var boltFiles = struct {
	mu    sync.Mutex
	files map[string]*boltFile
}{files: make(map[string]*boltFile)}

type boltFile struct {
	db   *bolt.DB
	refs int
}

// BoltStore implements Store on a bbolt snapshot file. Each logical database
// maps to its own bucket. Values are stored as an 8 byte big-endian expiry
// deadline (unix milliseconds, 0 for none) followed by the dumped payload.
type BoltStore struct {
	path   string
	db     *bolt.DB
	bucket []byte
	now    func() time.Time

	// scan cursors map to the last key examined, so a step resumes with a
	// Seek instead of walking the bucket from the start
	cursorMu   sync.Mutex
	cursors    map[uint64][]byte
	nextCursor uint64
}

// NewBoltStore opens (or reuses) the snapshot at path for one logical database
func NewBoltStore(path string, db types.LogicalDatabase) (*BoltStore, error) {
	boltFiles.mu.Lock()
	defer boltFiles.mu.Unlock()

	f, ok := boltFiles.files[path]
	if !ok {
		handle, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		f = &boltFile{db: handle}
		boltFiles.files[path] = f
	}

	bucket := []byte(fmt.Sprintf("db:%d", db))
	err := f.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		return nil
	})
	if err != nil {
		if f.refs == 0 {
			f.db.Close()
			delete(boltFiles.files, path)
		}
		return nil, err
	}

	f.refs++
	return &BoltStore{
		path:    path,
		db:      f.db,
		bucket:  bucket,
		now:     time.Now,
		cursors: make(map[uint64][]byte),
	}, nil
}

// Close releases this database's reference; the file closes with the last one
func (s *BoltStore) Close() error {
	boltFiles.mu.Lock()
	defer boltFiles.mu.Unlock()

	f, ok := boltFiles.files[s.path]
	if !ok {
		return nil
	}
	f.refs--
	if f.refs > 0 {
		return nil
	}
	delete(boltFiles.files, s.path)
	return f.db.Close()
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return fmt.Errorf("bucket %s not found", s.bucket)
		}
		return nil
	})
}

// Scan walks the bucket in key order; count bounds how many entries one call
// examines. A non-zero cursor is a token handed out by the previous step and
// may be used once.
func (s *BoltStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	if match == "" {
		match = "*"
	}
	g, err := glob.Compile(match)
	if err != nil {
		return nil, 0, &ProtocolError{Op: "scan", Err: fmt.Errorf("invalid pattern %q: %w", match, err)}
	}
	if count <= 0 {
		count = 10
	}

	var resume []byte
	if cursor != 0 {
		var ok bool
		if resume, ok = s.takeCursor(cursor); !ok {
			return nil, 0, &ProtocolError{Op: "scan", Err: fmt.Errorf("invalid cursor %d", cursor)}
		}
	}

	var keys []string
	var last []byte
	more := false
	nowMs := s.now().UnixMilli()

	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()

		var k, v []byte
		if resume == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(resume)
			if k != nil && bytes.Equal(k, resume) {
				k, v = c.Next()
			}
		}

		examined := int64(0)
		for ; k != nil && examined < count; k, v = c.Next() {
			examined++
			last = k
			if expired(v, nowMs) {
				continue
			}
			if g.Match(string(k)) {
				keys = append(keys, string(k))
			}
		}

		if k != nil {
			more = true
			// bolt memory is only valid inside the transaction
			last = append([]byte{}, last...)
		}
		return nil
	})
	if err != nil {
		if resume != nil {
			// the same cursor stays valid for a retry
			s.cursorMu.Lock()
			s.cursors[cursor] = resume
			s.cursorMu.Unlock()
		}
		return nil, 0, fmt.Errorf("scan: %w", err)
	}
	if !more {
		return keys, 0, nil
	}
	return keys, s.putCursor(last), nil
}

func (s *BoltStore) putCursor(key []byte) uint64 {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	s.nextCursor++
	s.cursors[s.nextCursor] = key
	return s.nextCursor
}

func (s *BoltStore) takeCursor(token uint64) ([]byte, bool) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	key, ok := s.cursors[token]
	delete(s.cursors, token)
	return key, ok
}

func (s *BoltStore) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		found = v != nil && !expired(v, s.now().UnixMilli())
		return nil
	})
	return found, err
}

func (s *BoltStore) Dump(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil || expired(v, s.now().UnixMilli()) {
			return nil
		}
		if len(v) < headerSize {
			return &ProtocolError{Op: "dump", Err: fmt.Errorf("corrupt record for key %q", key)}
		}
		// bolt memory is only valid inside the transaction
		payload = append([]byte{}, v[headerSize:]...)
		return nil
	})
	return payload, err
}

func (s *BoltStore) PTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl := TTLMissing
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil || len(v) < headerSize {
			return nil
		}
		deadline := int64(binary.BigEndian.Uint64(v[:headerSize]))
		if deadline == 0 {
			ttl = TTLNoExpiry
			return nil
		}
		remaining := deadline - s.now().UnixMilli()
		if remaining > 0 {
			ttl = time.Duration(remaining) * time.Millisecond
		}
		return nil
	})
	return ttl, err
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

func (s *BoltStore) NewBatch() Batch {
	return &boltBatch{store: s}
}

type restoreOp struct {
	key   string
	ttl   time.Duration
	value []byte
}

type boltBatch struct {
	store *BoltStore
	ops   []restoreOp
}

func (b *boltBatch) Restore(ctx context.Context, key string, ttl time.Duration, value []byte) {
	b.ops = append(b.ops, restoreOp{key: key, ttl: ttl, value: value})
}

func (b *boltBatch) Len() int {
	return len(b.ops)
}

// Exec applies every queued restore in a single write transaction. Like
// RESTORE without REPLACE, a key that already exists fails the batch.
func (b *boltBatch) Exec(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	s := b.store
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(s.bucket)
		nowMs := s.now().UnixMilli()
		for _, op := range b.ops {
			if v := bkt.Get([]byte(op.key)); v != nil && !expired(v, nowMs) {
				return &ProtocolError{Op: "restore " + op.key, Err: ErrBusyKey}
			}
			if op.ttl < 0 {
				return &ProtocolError{Op: "restore " + op.key, Err: fmt.Errorf("invalid TTL value %v", op.ttl)}
			}
			if err := bkt.Put([]byte(op.key), encodeRecord(op.value, op.ttl, nowMs)); err != nil {
				return fmt.Errorf("restore %s: %w", op.key, err)
			}
		}
		return nil
	})
}

func encodeRecord(value []byte, ttl time.Duration, nowMs int64) []byte {
	var deadline int64
	if ttl > 0 {
		deadline = nowMs + ttl.Milliseconds()
	}
	record := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint64(record[:headerSize], uint64(deadline))
	copy(record[headerSize:], value)
	return record
}

func expired(record []byte, nowMs int64) bool {
	if len(record) < headerSize {
		return false
	}
	deadline := int64(binary.BigEndian.Uint64(record[:headerSize]))
	return deadline != 0 && deadline <= nowMs
}
