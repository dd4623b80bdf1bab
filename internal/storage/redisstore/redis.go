// Package redisstore is the Redis backend of the key-value store. Expiry is
// delegated to Redis TTLs.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"beam/internal/storage"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// Store implements storage.KV over a go-redis client
type Store struct {
	rdb       *redis.Client
	namespace string
}

var _ storage.KV = (*Store)(nil)

// New wraps an existing client. Every key is stored under namespace, which may be empty.
func New(rdb *redis.Client, namespace string) *Store {
	return &Store{rdb: rdb, namespace: namespace}
}

// Dial connects to addr and verifies the connection
func Dial(ctx context.Context, addr, password string, db int, namespace string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(rdb, namespace), nil
}

func (s *Store) key(k string) string {
	return s.namespace + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.key(prefix)) + "*"

	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", prefix, err)
	}

	// SCAN may return a key more than once
	sort.Strings(keys)
	return dedupSorted(keys), nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dedupSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
