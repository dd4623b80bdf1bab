package errors

import (
	"fmt"
	"strings"
)

// Common error creators for frequent use cases

// NewValidationError joins one or more validation messages into a single ERR_VALIDATION error
func NewValidationError(messages ...string) *AppError {
	return New(ErrCodeValidation, strings.Join(messages, "; "))
}

// NewBodyParseError creates an error for an unparsable JSON body
func NewBodyParseError(err error) *AppError {
	msg := "Invalid JSON"
	if err != nil {
		msg = err.Error()
	}
	return Wrap(err, ErrCodeBodyParse, msg)
}

// NewUnauthorizedError creates an inbox authentication error
func NewUnauthorizedError(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

// NewUnknownDeviceError creates a not found error for a device
func NewUnknownDeviceError(deviceID string) *AppError {
	return New(ErrCodeUnknownDevice, "Unknown deviceId").
		WithContext("device_id", deviceID)
}

// NewUnknownItemError creates a not found error for a pending item
func NewUnknownItemError(itemID string) *AppError {
	return New(ErrCodeUnknownItem, "Pending item not found").
		WithContext("item_id", itemID)
}

// NewRateLimitError creates a rate limit error carrying the retry hint in seconds
func NewRateLimitError(retryAfter int) *AppError {
	if retryAfter < 1 {
		retryAfter = 1
	}
	err := New(ErrCodeRateLimit, "Rate limit exceeded")
	err.RetryAfter = retryAfter
	return err
}

// NewStorageError creates a storage backend error with operation context
func NewStorageError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStorage, fmt.Sprintf("storage %s failed", operation)).
		WithContext("operation", operation)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeConfig, message).
		WithContext("config_key", key)
}

// NewPushError creates a push delivery error for the given endpoint origin
func NewPushError(origin string, err error) *AppError {
	return Wrap(err, ErrCodePush, "push delivery failed").
		WithContext("origin", origin)
}

// NewUncaughtError maps an unexpected error to ERR_WORKER_UNCAUGHT, preserving its message
func NewUncaughtError(err error) *AppError {
	msg := "Unexpected error"
	if err != nil {
		msg = err.Error()
	}
	return Wrap(err, ErrCodeUncaught, msg)
}

// HTTP helpers

// HTTPStatusCode maps an error to its HTTP status code
func HTTPStatusCode(err error) int {
	if appErr, ok := As(err); ok && appErr.Status != 0 {
		return appErr.Status
	}
	return defaultStatus(GetCode(err))
}

// HTTPErrorResponse is the shared error body shape
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// HTTPErrorBody carries the code and message of an error response
type HTTPErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ToHTTPResponse converts an error to a standardized HTTP response.
// Storage failures hide the backend detail; uncaught errors keep their message.
func ToHTTPResponse(err error) HTTPErrorResponse {
	var resp HTTPErrorResponse
	appErr, ok := As(err)
	if !ok {
		appErr = NewUncaughtError(err)
	}
	resp.Error.Code = appErr.Code
	resp.Error.Message = appErr.Message
	return resp
}
