package types

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Subscription is the Web Push subscription a device registers with
type Subscription struct {
	Endpoint       string           `json:"endpoint"`
	ExpirationTime *int64           `json:"expirationTime,omitempty"`
	Keys           SubscriptionKeys `json:"keys"`
}

type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type RegisterRequest struct {
	DeviceID     string        `json:"deviceId"`
	KeyHash      string        `json:"keyHash"`
	Subscription *Subscription `json:"subscription"`
	Name         string        `json:"name,omitempty"`
}

type RegisterResponse struct {
	DeviceID string `json:"deviceId"`
	Updated  bool   `json:"updated"`
}

type RotateKeyRequest struct {
	KeyHash      string        `json:"keyHash"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Name         string        `json:"name,omitempty"`
}

type RotateKeyResponse struct {
	Rotated bool `json:"rotated"`
}

type EnqueueRequest struct {
	URL    string `json:"url"`
	SentAt string `json:"sentAt,omitempty"`
}

type EnqueueResponse struct {
	ItemID   string `json:"itemId"`
	Enqueued bool   `json:"enqueued"`
}

// PendingItem is one entry of the pending list. Timestamps are kept as
// strings so a single odd entry cannot fail the whole listing.
type PendingItem struct {
	ItemID    string `json:"itemId"`
	DeviceID  string `json:"deviceId,omitempty"`
	URL       string `json:"url"`
	SentAt    string `json:"sentAt,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type PendingResponse struct {
	Items []json.RawMessage `json:"items"`
}

type AckResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	ItemID       string `json:"itemId"`
}

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}

type VAPIDKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// APIError is a non-2xx response from the relay
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter int
}

// ErrCodeUnknownItem is returned when acknowledging an item the relay no
// longer holds, including a repeated ack
const ErrCodeUnknownItem = "ERR_ACK_UNKNOWN_ITEM"

// UnknownItem reports a 404 for an item that is already gone
func (e *APIError) UnknownItem() bool {
	return e.StatusCode == http.StatusNotFound && e.Code == ErrCodeUnknownItem
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("beam API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("beam API error: status %d, %s: %s", e.StatusCode, e.Code, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseAPIError builds an APIError from a response body, tolerating bodies
// that are not the standard error envelope
func ParseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		return apiErr
	}
	apiErr.Message = string(body)
	return apiErr
}
