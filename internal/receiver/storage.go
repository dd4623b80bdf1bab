package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"beam/internal/storage"
)

// KVStorage keeps receiver state as JSON documents in a storage.KV
type KVStorage struct {
	kv storage.KV
}

func NewKVStorage(kv storage.KV) *KVStorage {
	return &KVStorage{kv: kv}
}

func (s *KVStorage) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *KVStorage) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, raw, 0)
}
