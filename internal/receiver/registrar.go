package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"beam/internal/privacy"
	"beam/internal/security"
	"beam/pkg/beamclient/types"

	"github.com/sirupsen/logrus"
)

// SubscriptionSource yields the push subscription to register
type SubscriptionSource func(ctx context.Context) (*types.Subscription, error)

// Registrar creates and maintains this device's registration with the relay
type Registrar struct {
	storage      Storage
	clients      ClientFactory
	subscription SubscriptionSource
	logger       *logrus.Logger

	newDeviceID func() (string, error)
	newInboxKey func() (string, error)
}

func NewRegistrar(storage Storage, clients ClientFactory, subscription SubscriptionSource, logger *logrus.Logger) *Registrar {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registrar{
		storage:      storage,
		clients:      clients,
		subscription: subscription,
		logger:       logger,
		newDeviceID:  security.GenerateDeviceID,
		newInboxKey:  security.GenerateInboxKey,
	}
}

// EnsureRegistration reuses stored credentials for the same relay and only
// registers when there are none
func (r *Registrar) EnsureRegistration(ctx context.Context, cfg Config) (*Registration, error) {
	stored, err := r.storedDevice(ctx)
	if err != nil {
		return nil, err
	}
	if stored.complete() && stored.APIBaseURL == normalizeBaseURL(cfg.APIBaseURL) {
		return &Registration{DeviceID: stored.DeviceID, InboxKey: stored.InboxKey}, nil
	}
	return r.Register(ctx, cfg)
}

// Register always creates a fresh device ID and inbox key
func (r *Registrar) Register(ctx context.Context, cfg Config) (*Registration, error) {
	baseURL := normalizeBaseURL(cfg.APIBaseURL)
	if baseURL == "" || strings.TrimSpace(cfg.DeviceName) == "" {
		return nil, ErrMissingConfig
	}

	deviceID, err := r.newDeviceID()
	if err != nil {
		return nil, err
	}
	inboxKey, err := r.newInboxKey()
	if err != nil {
		return nil, err
	}

	sub, err := r.subscription(ctx)
	if err != nil {
		return nil, fmt.Errorf("push subscription unavailable: %w", err)
	}

	_, err = r.clients(baseURL).Register(ctx, types.RegisterRequest{
		DeviceID:     deviceID,
		KeyHash:      security.HashInboxKey(inboxKey),
		Subscription: sub,
		Name:         cfg.DeviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("device registration failed: %w", err)
	}

	device := Device{
		DeviceID:   deviceID,
		InboxKey:   inboxKey,
		APIBaseURL: baseURL,
		Name:       cfg.DeviceName,
	}
	if err := r.storage.Set(ctx, KeyDevice, device); err != nil {
		return nil, fmt.Errorf("failed to persist registration: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"device_id": privacy.MaskDeviceID(deviceID),
		"event":     "device.registered",
	}).Info("Device registered")

	return &Registration{DeviceID: deviceID, InboxKey: inboxKey}, nil
}

// RotateKey replaces the inbox key, authenticating with the current one.
// An empty name keeps the stored name.
func (r *Registrar) RotateKey(ctx context.Context, name string) (*Registration, error) {
	device, err := r.storedDevice(ctx)
	if err != nil {
		return nil, err
	}
	if !device.complete() {
		return nil, ErrNotRegistered
	}

	inboxKey, err := r.newInboxKey()
	if err != nil {
		return nil, err
	}

	req := types.RotateKeyRequest{KeyHash: security.HashInboxKey(inboxKey)}
	if name = strings.TrimSpace(name); name != "" {
		req.Name = name
		device.Name = name
	}

	if err := r.clients(device.APIBaseURL).RotateKey(ctx, device.DeviceID, device.InboxKey, req); err != nil {
		return nil, fmt.Errorf("key rotation failed: %w", err)
	}

	device.InboxKey = inboxKey
	if err := r.storage.Set(ctx, KeyDevice, device); err != nil {
		return nil, fmt.Errorf("failed to persist rotated key: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"device_id": privacy.MaskDeviceID(device.DeviceID),
		"event":     "device.rotated",
	}).Info("Inbox key rotated")

	return &Registration{DeviceID: device.DeviceID, InboxKey: inboxKey}, nil
}

func (r *Registrar) storedDevice(ctx context.Context) (*Device, error) {
	raw, err := r.storage.Get(ctx, KeyDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", KeyDevice, err)
	}
	var device Device
	if len(raw) == 0 {
		return &device, nil
	}
	if err := json.Unmarshal(raw, &device); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", KeyDevice, err)
	}
	return &device, nil
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
