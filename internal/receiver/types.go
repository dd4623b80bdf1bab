// Package receiver is the recipient side of the relay: it turns push
// payloads and catch-up listings into opened tabs (or notifications) and
// acknowledges every item it consumes.
package receiver

import (
	"context"
	"errors"
	"time"

	"beam/pkg/beamclient/types"
)

// Durable storage keys
const (
	KeyDevice   = "beam.device"
	KeyConfig   = "beam.config"
	KeySettings = "beam.settings"
)

var (
	ErrNotRegistered = errors.New("device not registered")
	ErrMissingConfig = errors.New("missing beam.config")
)

// Device is the locally persisted registration, including the raw inbox key
type Device struct {
	DeviceID   string `json:"deviceId"`
	InboxKey   string `json:"inboxKey"`
	APIBaseURL string `json:"apiBaseUrl"`
	Name       string `json:"name,omitempty"`
}

func (d *Device) complete() bool {
	return d != nil && d.DeviceID != "" && d.InboxKey != "" && d.APIBaseURL != ""
}

// Config is what the user configured: where the relay lives and what to call this device
type Config struct {
	APIBaseURL string `json:"apiBaseUrl"`
	DeviceName string `json:"deviceName"`
}

// Settings holds receiver preferences. A missing AutoOpen means true.
type Settings struct {
	AutoOpen *bool `json:"autoOpen,omitempty"`
}

func (s Settings) autoOpen() bool {
	return s.AutoOpen == nil || *s.AutoOpen
}

// Registration is the identity handed back after registering
type Registration struct {
	DeviceID string `json:"deviceId"`
	InboxKey string `json:"inboxKey"`
}

type Notification struct {
	Title   string
	Message string
	URL     string
}

// Storage is a durable key-value store. Get returns nil, nil for a missing key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}) error
}

type Inbox interface {
	Ack(ctx context.Context, device Device, itemID string) error
	ListPending(ctx context.Context, device Device) ([]types.PendingItem, error)
}

type Tabs interface {
	Create(ctx context.Context, url string, active bool) error
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Clock interface {
	Now() time.Time
}

// Scheduler runs f once after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type RegistrationEnsurer interface {
	EnsureRegistration(ctx context.Context, cfg Config) (*Registration, error)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }
