package errors

import (
	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with structured error logging
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new structured logger
func NewLogger() *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{Logger: logger}
}

// WrapLogger adapts an existing logrus logger
func WrapLogger(l *logrus.Logger) *Logger {
	return &Logger{Logger: l}
}

// LogError logs an error with structured context
func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	entry := l.WithError(err)
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Error(message)
}

// LogWarn logs a warning with structured context
func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	entry := l.WithError(err)
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Warn(message)
}

// LogByStatus logs client errors at warn level and server errors at error level
func (l *Logger) LogByStatus(err error, message string, fields ...logrus.Fields) {
	if HTTPStatusCode(err) >= 500 {
		l.LogError(err, message, fields...)
		return
	}
	l.LogWarn(err, message, fields...)
}

// WithError adds an error and its AppError context to subsequent log entries
func (l *Logger) WithError(err error) *logrus.Entry {
	entry := l.Logger.WithError(err)

	if appErr, ok := As(err); ok {
		entry = entry.WithField("error_code", appErr.Code)
		for k, v := range appErr.Context {
			entry = entry.WithField(k, v)
		}
	}

	return entry
}
