package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"beam/internal/constants"
	"beam/internal/errors"
	"beam/internal/metrics"
	"beam/internal/models"
	"beam/internal/ratelimit"
	"beam/internal/storage"
	"beam/internal/validation"
)

// InboxRepository persists pending items and their reverse index
type InboxRepository interface {
	PutPendingItem(ctx context.Context, item *models.PendingItem) error
	GetPendingItem(ctx context.Context, deviceID, itemID string) (*models.PendingItem, error)
	ListPendingItems(ctx context.Context, deviceID string) ([]models.PendingItem, error)
	DeletePendingItem(ctx context.Context, deviceID, itemID string) error
	ResolveDeviceIDForItem(ctx context.Context, itemID string) (string, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// RateLimiter is the fixed-window check used on the enqueue path
type RateLimiter interface {
	Check(ctx context.Context, identifier string, limit int, window time.Duration) (ratelimit.Result, error)
}

// Dispatcher sends a freshly enqueued item to its device
type Dispatcher interface {
	Dispatch(ctx context.Context, device *models.Device, item *models.PendingItem) error
}

// EnqueueRequest is the body of POST /v1/inbox/{deviceId}
type EnqueueRequest struct {
	URL    json.RawMessage `json:"url"`
	SentAt json.RawMessage `json:"sentAt,omitempty"`
}

// EnqueueResult identifies the stored item
type EnqueueResult struct {
	ItemID   string `json:"itemId"`
	Enqueued bool   `json:"enqueued"`
}

// AckResult confirms an acknowledgment
type AckResult struct {
	Acknowledged bool   `json:"acknowledged"`
	ItemID       string `json:"itemId"`
}

// InboxConfig tunes the enqueue path
type InboxConfig struct {
	RateLimit     int
	RateWindow    time.Duration
	Retention     time.Duration
	DispatchAfter time.Duration
}

// DefaultInboxConfig returns the defaults for the enqueue path
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		RateLimit:     constants.DefaultEnqueueRateLimit,
		RateWindow:    constants.DefaultEnqueueWindowSeconds * time.Second,
		Retention:     constants.DefaultPendingRetentionDays * 24 * time.Hour,
		DispatchAfter: time.Duration(constants.DefaultPushHTTPTimeoutSec) * time.Second,
	}
}

// InboxService is the pending queue: enqueue, list and acknowledge
type InboxService struct {
	devices    *DeviceService
	repo       InboxRepository
	limiter    RateLimiter
	dispatcher Dispatcher
	config     InboxConfig
	logger     *logrus.Logger
	now        func() time.Time
	newID      func() string

	limitMu    sync.RWMutex
	dispatches sync.WaitGroup
}

// NewInboxService wires the pending queue. dispatcher may be nil.
func NewInboxService(devices *DeviceService, repo InboxRepository, limiter RateLimiter, dispatcher Dispatcher, config InboxConfig, logger *logrus.Logger) *InboxService {
	return &InboxService{
		devices:    devices,
		repo:       repo,
		limiter:    limiter,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		now:        time.Now,
		newID:      newItemID,
	}
}

func newItemID() string {
	return constants.ItemIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Enqueue validates and stores a URL for an authenticated device, then
// starts a push in the background. Push failures never fail the enqueue.
func (s *InboxService) Enqueue(ctx context.Context, device *models.Device, clientIP string, req EnqueueRequest) (*EnqueueResult, error) {
	var errs []error

	url, err := validation.RequiredString(req.URL, "url")
	if err != nil {
		errs = append(errs, err)
	} else if err := validation.ValidateHTTPURL(url); err != nil {
		errs = append(errs, err)
	}

	var sentAt time.Time
	if !validation.IsAbsent(req.SentAt) {
		raw, _ := validation.OptionalString(req.SentAt)
		if sentAt, err = validation.ParseDatetime(raw); err != nil {
			errs = append(errs, err)
		}
	}

	if err := validation.Join(errs...); err != nil {
		return nil, err
	}

	if err := s.checkRateLimits(ctx, device.DeviceID, clientIP); err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	if sentAt.IsZero() {
		sentAt = createdAt
	}
	item := &models.PendingItem{
		ItemID:    s.newID(),
		DeviceID:  device.DeviceID,
		URL:       url,
		SentAt:    sentAt,
		CreatedAt: createdAt,
	}

	if err := s.repo.PutPendingItem(ctx, item); err != nil {
		return nil, errors.NewStorageError("put_pending_item", err)
	}

	eventEntry(s.logger, EventInboxEnqueued, device.DeviceID).
		WithFields(itemFields(ctx, item.ItemID, item.URL)).
		Info("Item enqueued")
	metrics.IncrementCounter(metrics.ItemsEnqueued, nil, "Items enqueued")

	s.dispatch(ctx, device, item)

	return &EnqueueResult{ItemID: item.ItemID, Enqueued: true}, nil
}

// checkRateLimits consults the IP bucket and the device bucket. Both are
// always counted; the IP reset is reported when the IP bucket is full.
func (s *InboxService) checkRateLimits(ctx context.Context, deviceID, clientIP string) error {
	if s.limiter == nil {
		return nil
	}
	if clientIP == "" {
		clientIP = "unknown"
	}

	s.limitMu.RLock()
	limit, window := s.config.RateLimit, s.config.RateWindow
	s.limitMu.RUnlock()

	ipResult, err := s.limiter.Check(ctx, "inbox:ip:"+clientIP, limit, window)
	if err != nil {
		return errors.NewStorageError("rate_limit", err)
	}
	deviceResult, err := s.limiter.Check(ctx, "inbox:device:"+deviceID, limit, window)
	if err != nil {
		return errors.NewStorageError("rate_limit", err)
	}

	var denied ratelimit.Result
	var scope string
	switch {
	case !ipResult.Allowed:
		denied, scope = ipResult, "ip"
	case !deviceResult.Allowed:
		denied, scope = deviceResult, "device"
	default:
		return nil
	}

	retryAfter := denied.RetryAfter(s.now())
	eventEntry(s.logger, EventRateLimited, deviceID).WithFields(logrus.Fields{
		LogFieldRateScope:  scope,
		LogFieldRetryAfter: retryAfter,
	}).Warn("Enqueue rate limited")
	metrics.IncrementCounter(metrics.RateLimited, map[string]string{"scope": scope}, "Rate limited enqueues")

	return errors.NewRateLimitError(retryAfter)
}

// SetRateLimit replaces the enqueue limit, e.g. after a config reload
func (s *InboxService) SetRateLimit(limit int, window time.Duration) {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	s.config.RateLimit = limit
	s.config.RateWindow = window
}

// dispatch runs the push outside the request; Wait blocks until all finish
func (s *InboxService) dispatch(ctx context.Context, device *models.Device, item *models.PendingItem) {
	if s.dispatcher == nil {
		return
	}

	deviceCopy := *device
	itemCopy := *item
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.DispatchAfter)

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		defer cancel()
		if err := s.dispatcher.Dispatch(pushCtx, &deviceCopy, &itemCopy); err != nil {
			s.logger.WithError(err).WithFields(itemFields(ctx, itemCopy.ItemID, "")).Debug("Push dispatch did not deliver")
		}
	}()
}

// Wait blocks until background pushes have finished
func (s *InboxService) Wait() {
	s.dispatches.Wait()
}

// List returns the device's pending items oldest first
func (s *InboxService) List(ctx context.Context, deviceID, rawKey string) ([]models.PendingItem, error) {
	if _, err := s.devices.Authenticate(ctx, deviceID, rawKey); err != nil {
		return nil, err
	}

	items, err := s.repo.ListPendingItems(ctx, deviceID)
	if err != nil {
		return nil, errors.NewStorageError("list_pending_items", err)
	}

	eventEntry(s.logger, EventInboxListed, deviceID).
		WithField(LogFieldCount, len(items)).
		Debug("Pending items listed")
	return items, nil
}

// Acknowledge removes a pending item. The item is resolved before the key
// is checked, so an unknown item is a 404 regardless of the key.
func (s *InboxService) Acknowledge(ctx context.Context, itemID, rawKey string) (*AckResult, error) {
	deviceID, err := s.repo.ResolveDeviceIDForItem(ctx, itemID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewUnknownItemError(itemID)
		}
		return nil, errors.NewStorageError("resolve_item", err)
	}

	if _, err := s.devices.Authenticate(ctx, deviceID, rawKey); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPendingItem(ctx, deviceID, itemID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewUnknownItemError(itemID)
		}
		return nil, errors.NewStorageError("get_pending_item", err)
	}

	if err := s.repo.DeletePendingItem(ctx, deviceID, itemID); err != nil {
		return nil, errors.NewStorageError("delete_pending_item", err)
	}

	eventEntry(s.logger, EventInboxAcknowledged, deviceID).
		WithFields(itemFields(ctx, itemID, "")).
		Info("Item acknowledged")
	metrics.IncrementCounter(metrics.ItemsAcknowledged, nil, "Items acknowledged")

	return &AckResult{Acknowledged: true, ItemID: itemID}, nil
}

// PurgeExpired deletes items older than the retention period
func (s *InboxService) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.Retention)
	purged, err := s.repo.PurgeExpired(ctx, cutoff)
	if purged > 0 {
		metrics.AddToCounter(metrics.ItemsPurged, float64(purged), nil, "Expired items purged")
	}
	if err != nil {
		return purged, errors.NewStorageError("purge_expired", err)
	}
	return purged, nil
}
