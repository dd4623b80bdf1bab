package models

// RateLimitBucket is the persisted state of one fixed window.
type RateLimitBucket struct {
	Count int   `json:"count"`
	Reset int64 `json:"reset"` // epoch seconds
}
