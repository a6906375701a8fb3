package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	s, err := NewBoltStore(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func restoreOne(t *testing.T, s Store, key string, ttl time.Duration, value string) {
	t.Helper()
	ctx := context.Background()
	b := s.NewBatch()
	b.Restore(ctx, key, ttl, []byte(value))
	require.NoError(t, b.Exec(ctx))
}

func TestBoltStore_RestoreDump(t *testing.T) {
	ctx := context.Background()
	s := newTestBoltStore(t)

	restoreOne(t, s, "a", 0, "v1")

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	val, err := s.Dump(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	ttl, err := s.PTTL(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, TTLNoExpiry, ttl)
}

func TestBoltStore_MissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestBoltStore(t)

	ok, err := s.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := s.Dump(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, val)

	ttl, err := s.PTTL(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, TTLMissing, ttl)
}

func TestBoltStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := newTestBoltStore(t)

	now := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return now }

	restoreOne(t, s, "a", 5000*time.Millisecond, "v1")

	ttl, err := s.PTTL(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 5000*time.Millisecond, ttl)

	// Past the deadline the key reads as missing
	now = now.Add(6 * time.Second)
	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := s.Dump(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestBoltStore_RestoreBusyKey(t *testing.T) {
	ctx := context.Background()
	s := newTestBoltStore(t)

	restoreOne(t, s, "a", 0, "v1")

	b := s.NewBatch()
	b.Restore(ctx, "a", 0, []byte("v2"))
	err := b.Exec(ctx)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.ErrorIs(t, err, ErrBusyKey)

	require.NoError(t, s.Delete(ctx, "a"))
	restoreOne(t, s, "a", 0, "v2")

	val, err := s.Dump(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)
}

func TestBoltStore_ScanPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestBoltStore(t)

	b := s.NewBatch()
	for _, k := range []string{"user:1", "user:2", "user:3", "order:1", "order:2"} {
		b.Restore(ctx, k, 0, []byte("x"))
	}
	require.NoError(t, b.Exec(ctx))

	var all []string
	var cursor uint64
	calls := 0
	for {
		keys, next, err := s.Scan(ctx, cursor, "user:*", 2)
		require.NoError(t, err)
		all = append(all, keys...)
		calls++
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Strings(all)
	assert.Equal(t, []string{"user:1", "user:2", "user:3"}, all)
	assert.Equal(t, 3, calls)
}

func TestBoltStore_ScanResumesAfterDeletedKey(t *testing.T) {
	ctx := context.Background()
	s := newTestBoltStore(t)

	b := s.NewBatch()
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		b.Restore(ctx, k, 0, []byte("x"))
	}
	require.NoError(t, b.Exec(ctx))

	keys, cursor, err := s.Scan(ctx, 0, "*", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keys)
	require.NotZero(t, cursor)

	// the key the cursor points at disappears between steps
	require.NoError(t, s.Delete(ctx, "k2"))

	keys, cursor, err = s.Scan(ctx, cursor, "*", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"k3", "k4"}, keys)

	keys, cursor, err = s.Scan(ctx, cursor, "*", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"k5"}, keys)
	assert.Zero(t, cursor)
}

func TestBoltStore_ScanUnknownCursor(t *testing.T) {
	s := newTestBoltStore(t)
	restoreOne(t, s, "a", 0, "x")

	_, _, err := s.Scan(context.Background(), 42, "*", 10)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestBoltStore_ScanCursorIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newTestBoltStore(t)
	for _, k := range []string{"a", "b", "c"} {
		restoreOne(t, s, k, 0, "x")
	}

	_, cursor, err := s.Scan(ctx, 0, "*", 1)
	require.NoError(t, err)

	_, _, err = s.Scan(ctx, cursor, "*", 1)
	require.NoError(t, err)
	_, _, err = s.Scan(ctx, cursor, "*", 1)
	assert.Error(t, err)
	assert.Empty(t, s.cursors[cursor])
}

func TestBoltStore_SharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	db0, err := NewBoltStore(path, 0)
	require.NoError(t, err)
	db1, err := NewBoltStore(path, 1)
	require.NoError(t, err)

	restoreOne(t, db0, "k", 0, "zero")
	restoreOne(t, db1, "k", 0, "one")

	v0, err := db0.Dump(ctx, "k")
	require.NoError(t, err)
	v1, err := db1.Dump(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "zero", string(v0))
	assert.Equal(t, "one", string(v1))

	require.NoError(t, db0.Close())
	// db1 still holds the file open
	require.NoError(t, db1.Ping(ctx))
	require.NoError(t, db1.Close())
}
