package migrate

import (
	"context"
	"errors"

	"github.com/cuemby/kvmigrate/pkg/storage"
	"github.com/cuemby/kvmigrate/pkg/types"
)

// ErrScanDone is returned by Next once the cursor has come back to 0
var ErrScanDone = errors.New("scan complete")

// Scanner enumerates the keys of one logical database with the store's
// incremental cursor. It is not safe for concurrent use.
type Scanner struct {
	store   storage.Store
	match   string
	count   int64
	cursor  uint64
	started bool
}

// NewScanner creates a scanner that starts at cursor 0
func NewScanner(store storage.Store, match string, count int64) *Scanner {
	if match == "" {
		match = DefaultKeyPattern
	}
	if count <= 0 {
		count = DefaultScanBatchSize
	}
	return &Scanner{store: store, match: match, count: count}
}

// Next performs one scan step. The batch may be empty while the scan is
// still running. On error the cursor is left where it was, so Next can be
// retried from the same position.
func (s *Scanner) Next(ctx context.Context) (types.KeyBatch, error) {
	if s.Done() {
		return types.KeyBatch{}, ErrScanDone
	}

	keys, next, err := s.store.Scan(ctx, s.cursor, s.match, s.count)
	if err != nil {
		return types.KeyBatch{}, err
	}

	s.started = true
	s.cursor = next
	return types.KeyBatch{Keys: keys, Cursor: next}, nil
}

// Done reports whether enumeration has finished
func (s *Scanner) Done() bool {
	return s.started && s.cursor == 0
}

// Cursor returns the continuation cursor of the last step
func (s *Scanner) Cursor() uint64 {
	return s.cursor
}

// SliceChunks splits keys into chunks of at most size keys. seq is advanced
// for every chunk produced so chunk numbers stay unique across batches.
func SliceChunks(db types.LogicalDatabase, keys []string, size int, seq *int) []types.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]types.Chunk, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		*seq++
		chunks = append(chunks, types.Chunk{DB: db, Seq: *seq, Keys: keys[start:end]})
	}
	return chunks
}
