package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/redis/go-redis/v9"
)

// RedisOptions holds connection settings shared by every logical database
// opened against one Redis endpoint
type RedisOptions struct {
	Addr         string
	Username     string
	Password     string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on top of a pooled go-redis client
type RedisStore struct {
	client *redis.Client
	db     types.LogicalDatabase
}

// NewRedisStore creates a client for one logical database. The connection
// is established lazily; call Ping to verify reachability.
func NewRedisStore(opts RedisOptions, db types.LogicalDatabase) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           int(db),
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	return &RedisStore{client: client, db: db}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapRedisErr("ping", err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := s.client.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return nil, 0, wrapRedisErr("scan", err)
	}
	return keys, next, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapRedisErr("exists", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Dump(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Dump(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRedisErr("dump", err)
	}
	return []byte(val), nil
}

func (s *RedisStore) PTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, wrapRedisErr("pttl", err)
	}
	return ttl, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrapRedisErr("del", err)
	}
	return nil
}

func (s *RedisStore) NewBatch() Batch {
	return &redisBatch{pipe: s.client.Pipeline()}
}

// Close closes the client and its connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisBatch struct {
	pipe redis.Pipeliner
}

func (b *redisBatch) Restore(ctx context.Context, key string, ttl time.Duration, value []byte) {
	b.pipe.Restore(ctx, key, ttl, string(value))
}

func (b *redisBatch) Len() int {
	return b.pipe.Len()
}

func (b *redisBatch) Exec(ctx context.Context) error {
	if b.pipe.Len() == 0 {
		return nil
	}
	if _, err := b.pipe.Exec(ctx); err != nil {
		return wrapRedisErr("pipeline exec", err)
	}
	return nil
}

// wrapRedisErr separates server error replies from network and client errors
func wrapRedisErr(op string, err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return &ProtocolError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
