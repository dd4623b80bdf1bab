package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"beam/internal/constants"
	"beam/internal/metrics"
	"beam/internal/models"
	"beam/internal/privacy"

	"github.com/sirupsen/logrus"
)

const notificationTitle = "Beam"

// Deps are the capabilities the runtime drives. Notifier and Registrar are
// optional; Clock and Scheduler default to the system clock and time.AfterFunc.
type Deps struct {
	Storage   Storage
	Inbox     Inbox
	Tabs      Tabs
	Notifier  Notifier
	Clock     Clock
	Scheduler Scheduler
	Registrar RegistrationEnsurer
	Logger    *logrus.Logger
}

type queuedTab struct {
	payload models.PushPayload
	device  Device
}

// Runtime holds every piece of receiver state. All mutation goes through mu;
// the lock is dropped around storage, tab and network calls.
type Runtime struct {
	deps   Deps
	logger *logrus.Logger

	mu         sync.Mutex
	device     *Device
	recentURLs map[string]time.Time
	openTimes  []time.Time
	queue      []queuedTab
	scheduled  bool
	processing bool
}

func NewRuntime(deps Deps) *Runtime {
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = timerScheduler{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Runtime{
		deps:       deps,
		logger:     logger,
		recentURLs: make(map[string]time.Time),
	}
}

// Reset drops caches, the tab queue and both flags. Called on activation.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = nil
	r.recentURLs = make(map[string]time.Time)
	r.openTimes = nil
	r.queue = nil
	r.scheduled = false
	r.processing = false
	metrics.SetGauge(metrics.ReceiverQueueDepth, 0, nil, "Tabs waiting for the storm window")
}

// HandleInstall registers the device described by beam.config
func (r *Runtime) HandleInstall(ctx context.Context) (*Registration, error) {
	var cfg Config
	found, err := r.load(ctx, KeyConfig, &cfg)
	if err != nil {
		return nil, err
	}
	if !found || cfg.APIBaseURL == "" || cfg.DeviceName == "" {
		return nil, ErrMissingConfig
	}
	if r.deps.Registrar == nil {
		return nil, errors.New("no registrar configured")
	}

	r.mu.Lock()
	r.device = nil
	r.mu.Unlock()

	return r.deps.Registrar.EnsureRegistration(ctx, cfg)
}

// HandlePush processes one decoded push payload
func (r *Runtime) HandlePush(ctx context.Context, payload models.PushPayload) error {
	device, err := r.loadDevice(ctx)
	if err != nil {
		return err
	}

	var settings Settings
	if _, err := r.load(ctx, KeySettings, &settings); err != nil {
		r.logger.WithError(err).Warn("Failed to read receiver settings, assuming autoOpen")
	}

	if !settings.autoOpen() {
		r.markRecent(payload.URL, r.deps.Clock.Now())
		if r.deps.Notifier != nil {
			n := Notification{Title: notificationTitle, Message: payload.URL, URL: payload.URL}
			if err := r.deps.Notifier.Notify(ctx, n); err != nil {
				r.logger.WithError(err).Warn("Failed to show notification")
			} else {
				metrics.IncrementCounter(metrics.ReceiverNotified, nil, "Items surfaced as notifications")
			}
		}
		return r.ack(ctx, *device, payload.ItemID)
	}

	now := r.deps.Clock.Now()
	r.mu.Lock()
	last, seen := r.recentURLs[payload.URL]
	duplicate := seen && now.Sub(last) < constants.RecentURLWindow
	r.mu.Unlock()

	if duplicate {
		r.logger.WithFields(logrus.Fields{
			"item_id": privacy.MaskItemID(payload.ItemID),
			"url":     privacy.MaskURL(payload.URL),
		}).Debug("URL opened recently, acknowledging without a new tab")
		metrics.IncrementCounter(metrics.ReceiverDeduplicated, nil, "Items acknowledged as duplicates")
		return r.ack(ctx, *device, payload.ItemID)
	}

	r.mu.Lock()
	r.queue = append(r.queue, queuedTab{payload: payload, device: *device})
	metrics.SetGauge(metrics.ReceiverQueueDepth, float64(len(r.queue)), nil, "Tabs waiting for the storm window")
	r.mu.Unlock()

	return r.processQueue(ctx)
}

// HandleStartup replays the server's pending list oldest first. Entries
// without an item ID or URL are skipped; a failing item does not stop the rest.
func (r *Runtime) HandleStartup(ctx context.Context) error {
	device, err := r.loadDevice(ctx)
	if err != nil {
		return err
	}

	items, err := r.deps.Inbox.ListPending(ctx, *device)
	if err != nil {
		return fmt.Errorf("failed to list pending items: %w", err)
	}

	type entry struct {
		payload   models.PushPayload
		createdAt time.Time
	}
	entries := make([]entry, 0, len(items))
	for _, item := range items {
		if item.ItemID == "" || item.URL == "" {
			r.logger.Debug("Skipping malformed pending entry")
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
		entries = append(entries, entry{
			payload:   models.PushPayload{ItemID: item.ItemID, URL: item.URL, SentAt: item.SentAt},
			createdAt: createdAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	r.logger.WithFields(logrus.Fields{
		"device_id": privacy.MaskDeviceID(device.DeviceID),
		"count":     len(entries),
	}).Info("Catching up on pending items")

	var errs []error
	for _, e := range entries {
		if err := r.HandlePush(ctx, e.payload); err != nil {
			r.logger.WithError(err).WithField("item_id", privacy.MaskItemID(e.payload.ItemID)).
				Warn("Catch-up item failed")
			errs = append(errs, err)
			continue
		}
		metrics.IncrementCounter(metrics.ReceiverCatchUp, nil, "Items replayed by catch-up")
	}
	return errors.Join(errs...)
}

// processQueue drains the tab queue, opening at most MaxTabsPerWindow tabs per
// StormWindow. Only one drain runs at a time; when the window is full the
// drain stops and a single timer resumes it.
func (r *Runtime) processQueue(ctx context.Context) error {
	r.mu.Lock()
	if r.processing {
		r.mu.Unlock()
		return nil
	}
	r.processing = true

	var firstErr error
	for len(r.queue) > 0 {
		now := r.deps.Clock.Now()
		r.pruneOpenTimes(now)
		if len(r.openTimes) >= constants.MaxTabsPerWindow {
			wait := constants.StormWindow - now.Sub(r.openTimes[0])
			r.processing = false
			r.scheduleLocked(wait)
			r.mu.Unlock()
			return firstErr
		}

		next := r.queue[0]
		r.queue = r.queue[1:]
		metrics.SetGauge(metrics.ReceiverQueueDepth, float64(len(r.queue)), nil, "Tabs waiting for the storm window")
		r.mu.Unlock()

		opened, err := r.openTab(ctx, next, now)

		r.mu.Lock()
		if opened {
			r.openTimes = append(r.openTimes, now)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.processing = false
	r.mu.Unlock()
	return firstErr
}

func (r *Runtime) scheduleLocked(wait time.Duration) {
	if r.scheduled {
		return
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	r.scheduled = true
	r.deps.Scheduler.AfterFunc(wait, func() {
		r.mu.Lock()
		r.scheduled = false
		r.mu.Unlock()
		if err := r.processQueue(context.Background()); err != nil {
			r.logger.WithError(err).Warn("Deferred tab processing failed")
		}
	})
}

func (r *Runtime) pruneOpenTimes(now time.Time) {
	i := 0
	for i < len(r.openTimes) && now.Sub(r.openTimes[i]) >= constants.StormWindow {
		i++
	}
	r.openTimes = r.openTimes[i:]
}

func (r *Runtime) openTab(ctx context.Context, item queuedTab, now time.Time) (bool, error) {
	if err := r.deps.Tabs.Create(ctx, item.payload.URL, true); err != nil {
		return false, fmt.Errorf("failed to open tab: %w", err)
	}
	r.markRecent(item.payload.URL, now)
	metrics.IncrementCounter(metrics.ReceiverTabsOpened, nil, "Tabs opened")

	r.logger.WithFields(logrus.Fields{
		"item_id": privacy.MaskItemID(item.payload.ItemID),
		"url":     privacy.MaskURL(item.payload.URL),
	}).Info("Opened tab")

	return true, r.ack(ctx, item.device, item.payload.ItemID)
}

func (r *Runtime) markRecent(url string, at time.Time) {
	r.mu.Lock()
	r.recentURLs[url] = at
	for u, t := range r.recentURLs {
		if at.Sub(t) >= constants.RecentURLWindow {
			delete(r.recentURLs, u)
		}
	}
	r.mu.Unlock()
}

func (r *Runtime) ack(ctx context.Context, device Device, itemID string) error {
	if err := r.deps.Inbox.Ack(ctx, device, itemID); err != nil {
		return fmt.Errorf("failed to acknowledge %s: %w", itemID, err)
	}
	return nil
}

func (r *Runtime) loadDevice(ctx context.Context) (*Device, error) {
	r.mu.Lock()
	cached := r.device
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var device Device
	found, err := r.load(ctx, KeyDevice, &device)
	if err != nil {
		return nil, err
	}
	if !found || !device.complete() {
		return nil, ErrNotRegistered
	}

	r.mu.Lock()
	r.device = &device
	r.mu.Unlock()
	return &device, nil
}

// load decodes key into dst and reports whether it was present
func (r *Runtime) load(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := r.deps.Storage.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
