package models

import (
	"encoding/json"
	"time"
)

// Device is a registered recipient. Only the SHA-256 hex digest of the
// inbox key is ever stored.
type Device struct {
	DeviceID     string          `json:"deviceId"`
	KeyHash      string          `json:"keyHash"`
	Name         string          `json:"name"`
	Subscription json.RawMessage `json:"subscription"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// PushSubscription is the structured view of a Web Push subscription
// descriptor. Devices store the raw object; the push sender decodes it.
type PushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime *int64               `json:"expirationTime,omitempty"`
	Keys           PushSubscriptionKeys `json:"keys"`
}

// PushSubscriptionKeys holds the recipient's base64url P-256 public key and
// auth secret.
type PushSubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// DecodeSubscription parses the stored subscription descriptor.
func (d *Device) DecodeSubscription() (*PushSubscription, error) {
	var sub PushSubscription
	if len(d.Subscription) == 0 {
		return &sub, nil
	}
	if err := json.Unmarshal(d.Subscription, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
