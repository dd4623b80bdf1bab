package service

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/sirupsen/logrus"

	"beam/internal/errors"
	"beam/internal/metrics"
	"beam/internal/models"
	"beam/internal/security"
	"beam/internal/storage"
	"beam/internal/validation"
)

// DeviceRepository persists device records
type DeviceRepository interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	PutDevice(ctx context.Context, device *models.Device) error
}

// RegisterRequest is the body of POST /v1/devices. Fields stay raw so type
// errors are reported as validation messages rather than parse failures.
type RegisterRequest struct {
	DeviceID     json.RawMessage `json:"deviceId"`
	KeyHash      json.RawMessage `json:"keyHash"`
	Subscription json.RawMessage `json:"subscription"`
	Name         json.RawMessage `json:"name"`
}

// RegisterResult reports whether an existing record was replaced
type RegisterResult struct {
	DeviceID string `json:"deviceId"`
	Updated  bool   `json:"updated"`
}

// RotateRequest is the body of POST /v1/devices/{deviceId}/rotate-key
type RotateRequest struct {
	KeyHash      json.RawMessage `json:"keyHash"`
	Subscription json.RawMessage `json:"subscription,omitempty"`
	Name         json.RawMessage `json:"name,omitempty"`
}

// DeviceService registers devices, rotates their inbox keys and
// authenticates every inbox operation
type DeviceService struct {
	repo   DeviceRepository
	logger *logrus.Logger
	now    func() time.Time
}

// NewDeviceService creates a device service
func NewDeviceService(repo DeviceRepository, logger *logrus.Logger) *DeviceService {
	return &DeviceService{repo: repo, logger: logger, now: time.Now}
}

// Register creates or replaces a device record. createdAt survives
// re-registration; everything else is overwritten.
func (s *DeviceService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	var errs []error

	deviceID, err := validation.RequiredString(req.DeviceID, "deviceId")
	if err != nil {
		errs = append(errs, err)
	} else if err := validation.ValidateDeviceID(deviceID); err != nil {
		errs = append(errs, err)
	}

	keyHash, err := validation.RequiredString(req.KeyHash, "keyHash")
	if err != nil {
		errs = append(errs, err)
	} else if keyHash, err = validation.NormalizeKeyHash(keyHash); err != nil {
		errs = append(errs, err)
	}

	if !validation.IsObject(req.Subscription) {
		errs = append(errs, errors.NewValidationError("subscription must be an object"))
	}

	name, err := validation.RequiredString(req.Name, "name")
	if err != nil {
		errs = append(errs, err)
	}

	if err := validation.Join(errs...); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetDevice(ctx, deviceID)
	if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NewStorageError("get_device", err)
	}

	now := s.now().UTC()
	device := &models.Device{
		DeviceID:     deviceID,
		KeyHash:      keyHash,
		Name:         validation.NormalizeName(name),
		Subscription: compactJSON(req.Subscription),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	updated := existing != nil
	if updated {
		device.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.PutDevice(ctx, device); err != nil {
		return nil, errors.NewStorageError("put_device", err)
	}

	eventEntry(s.logger, EventDeviceRegistered, deviceID).
		WithField("updated", updated).
		Info("Device registered")
	metrics.IncrementCounter(metrics.DevicesRegistered, map[string]string{"updated": boolLabel(updated)}, "Device registrations")

	return &RegisterResult{DeviceID: deviceID, Updated: updated}, nil
}

// Authenticate loads the device and checks the raw inbox key against its
// stored hash. The device lookup comes first, so an unknown device is a 404
// even without a key.
func (s *DeviceService) Authenticate(ctx context.Context, deviceID, rawKey string) (*models.Device, error) {
	device, err := s.repo.GetDevice(ctx, deviceID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewUnknownDeviceError(deviceID)
		}
		return nil, errors.NewStorageError("get_device", err)
	}

	if rawKey == "" {
		return nil, errors.NewUnauthorizedError("Missing X-Inbox-Key header")
	}
	if !security.VerifyInboxKey(rawKey, device.KeyHash) {
		return nil, errors.NewUnauthorizedError("Invalid inbox key")
	}
	return device, nil
}

// RotateKey replaces the key hash of an authenticated device and optionally
// its subscription and name
func (s *DeviceService) RotateKey(ctx context.Context, device *models.Device, req RotateRequest) error {
	keyHash, err := validation.RequiredString(req.KeyHash, "keyHash")
	if err != nil {
		return err
	}
	if !validation.IsKeyHash(keyHash) {
		return errors.NewValidationError("keyHash must be a 64-character hex string")
	}
	keyHash, _ = validation.NormalizeKeyHash(keyHash)
	if keyHash == device.KeyHash {
		return errors.NewValidationError("keyHash must differ from existing value")
	}

	rotated := *device
	rotated.KeyHash = keyHash
	if validation.IsObject(req.Subscription) {
		rotated.Subscription = compactJSON(req.Subscription)
	}
	if name, ok := validation.OptionalString(req.Name); ok && validation.NormalizeName(name) != "" {
		rotated.Name = validation.NormalizeName(name)
	}
	rotated.UpdatedAt = s.now().UTC()

	if err := s.repo.PutDevice(ctx, &rotated); err != nil {
		return errors.NewStorageError("put_device", err)
	}
	*device = rotated

	eventEntry(s.logger, EventDeviceRotated, device.DeviceID).Info("Inbox key rotated")
	return nil
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
