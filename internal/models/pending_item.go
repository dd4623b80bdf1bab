package models

import "time"

// PendingItem is a URL awaiting delivery to exactly one device. It stays
// listed until acknowledged or until it ages past the retention window.
type PendingItem struct {
	ItemID    string    `json:"itemId"`
	DeviceID  string    `json:"deviceId"`
	URL       string    `json:"url"`
	SentAt    time.Time `json:"sentAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// PushPayload is the JSON document encrypted into a Web Push message and
// consumed by the receiver runtime.
type PushPayload struct {
	URL    string `json:"url"`
	ItemID string `json:"itemId"`
	SentAt string `json:"sentAt,omitempty"`
}

// Payload builds the push payload for the item.
func (p *PendingItem) Payload() PushPayload {
	return PushPayload{
		URL:    p.URL,
		ItemID: p.ItemID,
		SentAt: p.SentAt.UTC().Format(time.RFC3339Nano),
	}
}
