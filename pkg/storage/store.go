package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/kvmigrate/pkg/types"
)

// PTTL sentinels, following the Redis convention
const (
	TTLNoExpiry time.Duration = -1
	TTLMissing  time.Duration = -2
)

// Store defines the key-value operations the migration engine needs from a
// source or target instance. A Store is bound to one logical database and
// must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	// Keyspace enumeration
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)

	// Per-key reads
	Exists(ctx context.Context, key string) (bool, error)
	// Dump returns nil, nil when the key does not exist
	Dump(ctx context.Context, key string) ([]byte, error)
	// PTTL returns TTLNoExpiry or TTLMissing for keys without a deadline
	PTTL(ctx context.Context, key string) (time.Duration, error)

	// Writes
	Delete(ctx context.Context, key string) error
	NewBatch() Batch

	// Utility
	Close() error
}

// Batch queues restore operations and sends them in one round trip
type Batch interface {
	// Restore queues key with the dumped value. ttl 0 means no expiry.
	Restore(ctx context.Context, key string, ttl time.Duration, value []byte)
	Len() int
	Exec(ctx context.Context) error
}

// Opener opens a Store bound to a logical database
type Opener func(db types.LogicalDatabase) (Store, error)

var (
	ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")
	ErrBusyKey           = errors.New("BUSYKEY Target key name already exists")
)

// ProtocolError is an error reply returned by the store itself, as opposed
// to a transport or client failure.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err carries a store error reply
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
