package service

// Logging standards for Beam
//
// Standard field names and event names keep log lines queryable across
// the relay, the receiver and the command-line tools.

// Standard Field Names
const (
	// Core identifiers
	LogFieldDeviceID  = "device_id"
	LogFieldItemID    = "item_id"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"
	LogFieldEvent     = "event"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldOrigin     = "origin"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldHeaders    = "headers"

	// Rate limiting
	LogFieldRetryAfter = "retry_after"
	LogFieldRateScope  = "rate_scope"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Event names. These match the structured events emitted by every Beam
// component so dashboards can be shared.
const (
	EventDeviceRegistered  = "device.registered"
	EventDeviceRotated     = "device.rotated"
	EventInboxEnqueued     = "inbox.enqueued"
	EventInboxListed       = "inbox.listed"
	EventInboxAcknowledged = "inbox.acknowledged"
	EventInboxPurged       = "inbox.purged"
	EventRateLimited       = "inbox.rate_limited"
	EventPushSent          = "push.sent"
	EventPushRejected      = "push.rejected"
	EventPushFailed        = "push.failed"
	EventPushSkipped       = "push.skipped"
	EventPushGone          = "push.subscription_gone"
	EventWorkerUncaught    = "worker.uncaught"
)

// Log Level Usage Guidelines
//
// DEBUG: request/response detail, only in verbose mode.
// INFO: state changes (registered, enqueued, acknowledged, pushed).
// WARN: client errors, rate limiting, rejected pushes, open breakers.
// ERROR: storage failures, uncaught errors, transport errors.
//
// Inbox keys are never logged. Device and item IDs go through
// privacy.MaskDeviceID / privacy.MaskItemID and URLs through
// privacy.MaskURL at INFO and above.
