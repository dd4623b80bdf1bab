// Package storage persists device records, pending items and rate-limit
// buckets over a minimal key-value contract with per-key expiry.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by KV.Get when the key is absent or expired
var ErrNotFound = errors.New("storage: key not found")

// KV is the key-value contract every backend implements. Each call is an
// independent atomic operation; there are no multi-key transactions.
type KV interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key. A ttl of zero keeps the key until deleted.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the live keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const (
	devicePrefix  = "device:"
	pendingPrefix = "pending:"
	itemPrefix    = "item:"
	ratePrefix    = "rate:"
)

// DeviceKey is the key of a device record
func DeviceKey(deviceID string) string {
	return devicePrefix + deviceID
}

// PendingKey is the key of one pending item owned by deviceID
func PendingKey(deviceID, itemID string) string {
	return pendingPrefix + deviceID + ":" + itemID
}

// PendingPrefix lists every pending item owned by deviceID
func PendingPrefix(deviceID string) string {
	return pendingPrefix + deviceID + ":"
}

// ItemIndexKey is the reverse index from itemID to its owning device
func ItemIndexKey(itemID string) string {
	return itemPrefix + itemID
}

// RateKey is the key of a rate-limit bucket
func RateKey(identifier string) string {
	return ratePrefix + identifier
}
