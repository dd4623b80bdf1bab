package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"beam/internal/models"
)

// Store is the Credential Store: typed access to device records and pending
// items over a KV backend.
type Store struct {
	kv        KV
	retention time.Duration
}

// NewStore wraps kv. Pending items and their index entries expire after retention.
func NewStore(kv KV, retention time.Duration) *Store {
	return &Store{kv: kv, retention: retention}
}

// KV exposes the underlying backend for components that share it, such as the rate limiter
func (s *Store) KV() KV {
	return s.kv
}

// Retention is the lifetime of a pending item
func (s *Store) Retention() time.Duration {
	return s.retention
}

// GetDevice returns the device record or ErrNotFound
func (s *Store) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	var device models.Device
	if err := s.getJSON(ctx, DeviceKey(deviceID), &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// PutDevice upserts a device record. Device records never expire.
func (s *Store) PutDevice(ctx context.Context, device *models.Device) error {
	return s.putJSON(ctx, DeviceKey(device.DeviceID), device, 0)
}

// PutPendingItem writes the item and then its reverse index, both with the retention TTL
func (s *Store) PutPendingItem(ctx context.Context, item *models.PendingItem) error {
	if err := s.putJSON(ctx, PendingKey(item.DeviceID, item.ItemID), item, s.retention); err != nil {
		return err
	}
	return s.kv.Put(ctx, ItemIndexKey(item.ItemID), []byte(item.DeviceID), s.retention)
}

// GetPendingItem returns one pending item or ErrNotFound
func (s *Store) GetPendingItem(ctx context.Context, deviceID, itemID string) (*models.PendingItem, error) {
	var item models.PendingItem
	if err := s.getJSON(ctx, PendingKey(deviceID, itemID), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListPendingItems returns the device's items oldest first, ties broken by itemId.
// Entries that fail to decode are skipped.
func (s *Store) ListPendingItems(ctx context.Context, deviceID string) ([]models.PendingItem, error) {
	keys, err := s.kv.List(ctx, PendingPrefix(deviceID))
	if err != nil {
		return nil, err
	}

	items := make([]models.PendingItem, 0, len(keys))
	for _, key := range keys {
		var item models.PendingItem
		if err := s.getJSON(ctx, key, &item); err != nil {
			if errors.Is(err, ErrNotFound) || isDecodeError(err) {
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}

	SortPendingItems(items)
	return items, nil
}

// DeletePendingItem removes the item and its reverse index entry
func (s *Store) DeletePendingItem(ctx context.Context, deviceID, itemID string) error {
	if err := s.kv.Delete(ctx, PendingKey(deviceID, itemID)); err != nil {
		return err
	}
	return s.kv.Delete(ctx, ItemIndexKey(itemID))
}

// ResolveDeviceIDForItem follows the reverse index, returning ErrNotFound for unknown items
func (s *Store) ResolveDeviceIDForItem(ctx context.Context, itemID string) (string, error) {
	raw, err := s.kv.Get(ctx, ItemIndexKey(itemID))
	if err != nil {
		return "", err
	}
	deviceID := strings.TrimSpace(string(raw))
	if deviceID == "" {
		return "", ErrNotFound
	}
	return deviceID, nil
}

// PurgeExpired deletes pending items created before cutoff, together with
// their index entries, and returns how many items were removed. Backends
// with native expiry normally leave nothing for it to do.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.kv.List(ctx, pendingPrefix)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		var item models.PendingItem
		err := s.getJSON(ctx, key, &item)
		switch {
		case errors.Is(err, ErrNotFound):
			continue
		case isDecodeError(err):
			// unreadable entries can never be listed or acknowledged
			if err := s.kv.Delete(ctx, key); err != nil {
				return purged, err
			}
			purged++
			continue
		case err != nil:
			return purged, err
		}

		if !item.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.DeletePendingItem(ctx, item.DeviceID, item.ItemID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// SortPendingItems orders items by createdAt ascending, then itemId
func SortPendingItems(items []models.PendingItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ItemID < items[j].ItemID
	})
}

type decodeError struct {
	key string
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.key, e.err)
}

func (e *decodeError) Unwrap() error {
	return e.err
}

func isDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

func (s *Store) getJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &decodeError{key: key, err: err}
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, raw, ttl)
}
