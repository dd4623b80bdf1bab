package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the enumerated code returned in every error response body
type ErrorCode string

const (
	// Router errors
	ErrCodeRouterNotFound ErrorCode = "ERR_ROUTER_NOT_FOUND"
	ErrCodeRouterMethod   ErrorCode = "ERR_ROUTER_METHOD"
	ErrCodeUncaught       ErrorCode = "ERR_WORKER_UNCAUGHT"

	// Input errors
	ErrCodeBodyParse  ErrorCode = "ERR_BODY_PARSE"
	ErrCodeValidation ErrorCode = "ERR_VALIDATION"

	// Inbox errors
	ErrCodeUnauthorized  ErrorCode = "ERR_INBOX_UNAUTHORIZED"
	ErrCodeUnknownDevice ErrorCode = "ERR_INBOX_UNKNOWN_DEVICE"
	ErrCodeUnknownItem   ErrorCode = "ERR_ACK_UNKNOWN_ITEM"
	ErrCodeRateLimit     ErrorCode = "ERR_RATE_LIMIT"

	// Backend errors
	ErrCodeStorage ErrorCode = "ERR_STORAGE"
	ErrCodeConfig  ErrorCode = "ERR_CONFIG"
	ErrCodePush    ErrorCode = "ERR_PUSH"
)

// AppError represents a structured application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"-"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
	// RetryAfter is the number of seconds a client should wait, set on rate limit errors.
	RetryAfter int `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new AppError with the default status for its code
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  defaultStatus(code),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  defaultStatus(code),
		Cause:   err,
	}
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeUncaught
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func defaultStatus(code ErrorCode) int {
	switch code {
	case ErrCodeBodyParse, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRouterNotFound, ErrCodeUnknownDevice, ErrCodeUnknownItem:
		return http.StatusNotFound
	case ErrCodeRouterMethod:
		return http.StatusMethodNotAllowed
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodePush:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
