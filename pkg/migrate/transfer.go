package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/kvmigrate/pkg/storage"
	"github.com/cuemby/kvmigrate/pkg/types"
)

// NormalizeTTL maps a source PTTL reading onto the TTL used for RESTORE.
// Negative readings (no expiry, or gone) become 0, which restores the key
// without expiry.
func NormalizeTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

// readRecord dumps key from src. A nil record means the key is gone.
func readRecord(ctx context.Context, src storage.Store, key string) (*types.TransferRecord, error) {
	exists, err := src.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("exists %q: %w", key, err)
	}
	if !exists {
		return nil, nil
	}

	value, err := src.Dump(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("dump %q: %w", key, err)
	}
	if value == nil {
		return nil, nil
	}

	ttl, err := src.PTTL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pttl %q: %w", key, err)
	}

	return &types.TransferRecord{Key: key, Value: value, TTL: NormalizeTTL(ttl)}, nil
}

// TransferKey moves one key from src into batch. The destination key is
// deleted first so the queued RESTORE always lands on a vacant slot. It
// reports whether a restore was queued; a key that vanished from the source
// is not an error. Nothing is retried.
func TransferKey(ctx context.Context, src, dst storage.Store, batch storage.Batch, key string) (bool, error) {
	rec, err := readRecord(ctx, src, key)
	if err != nil || rec == nil {
		return false, err
	}

	present, err := dst.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("target exists %q: %w", key, err)
	}
	if present {
		if err := dst.Delete(ctx, key); err != nil {
			return false, fmt.Errorf("target delete %q: %w", key, err)
		}
	}

	batch.Restore(ctx, rec.Key, rec.TTL, rec.Value)
	return true, nil
}
