// Package ratelimit implements a fixed-window request counter persisted in
// the shared key-value store.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"beam/internal/models"
	"beam/internal/storage"
)

// Result is the outcome of one Check
type Result struct {
	Allowed   bool
	Remaining int
	// Reset is the epoch second at which the current window ends
	Reset int64
}

// RetryAfter is the number of whole seconds until Reset, at least 1
func (r Result) RetryAfter(now time.Time) int {
	secs := r.Reset - now.Unix()
	if secs < 1 {
		return 1
	}
	return int(secs)
}

// Limiter counts requests per identifier in fixed windows. The read and
// write of a bucket are separate operations, so concurrent requests may
// briefly overshoot the limit.
type Limiter struct {
	kv  storage.KV
	now func() time.Time
}

// New creates a limiter over kv
func New(kv storage.KV) *Limiter {
	return &Limiter{kv: kv, now: time.Now}
}

// WithClock overrides the time source
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check records one request for identifier and reports whether it is allowed.
// A missing, expired or unreadable bucket starts a new window with count 1.
// A full bucket is left untouched and reports its existing reset.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	if limit < 1 {
		return Result{}, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	windowSecs := int64(window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}

	key := storage.RateKey(identifier)
	now := l.now().Unix()

	bucket, err := l.load(ctx, key)
	if err != nil {
		return Result{}, err
	}

	if bucket == nil || bucket.Reset <= now {
		next := models.RateLimitBucket{Count: 1, Reset: now + windowSecs}
		if err := l.store(ctx, key, next, windowSecs); err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, Remaining: limit - 1, Reset: next.Reset}, nil
	}

	if bucket.Count >= limit {
		return Result{Allowed: false, Remaining: 0, Reset: bucket.Reset}, nil
	}

	next := models.RateLimitBucket{Count: bucket.Count + 1, Reset: bucket.Reset}
	ttl := bucket.Reset - now
	if ttl < 1 {
		ttl = 1
	}
	if err := l.store(ctx, key, next, ttl); err != nil {
		return Result{}, err
	}

	remaining := limit - next.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, Reset: bucket.Reset}, nil
}

func (l *Limiter) load(ctx context.Context, key string) (*models.RateLimitBucket, error) {
	raw, err := l.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rate bucket: %w", err)
	}

	var bucket models.RateLimitBucket
	if err := json.Unmarshal(raw, &bucket); err != nil {
		return nil, nil
	}
	return &bucket, nil
}

func (l *Limiter) store(ctx context.Context, key string, bucket models.RateLimitBucket, ttlSecs int64) error {
	raw, err := json.Marshal(bucket)
	if err != nil {
		return err
	}
	if err := l.kv.Put(ctx, key, raw, time.Duration(ttlSecs)*time.Second); err != nil {
		return fmt.Errorf("failed to write rate bucket: %w", err)
	}
	return nil
}
