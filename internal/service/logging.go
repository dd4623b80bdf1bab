package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"beam/internal/privacy"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// eventEntry starts a log entry tagged with an event name and a masked device ID
func eventEntry(logger *logrus.Logger, event, deviceID string) *logrus.Entry {
	entry := logger.WithField(LogFieldEvent, event)
	if deviceID != "" {
		entry = entry.WithField(LogFieldDeviceID, privacy.MaskDeviceID(deviceID))
	}
	return entry
}

// itemFields returns masked identifiers for a pending item, with the raw URL
// included only when verbose logging is on
func itemFields(ctx context.Context, itemID, url string) logrus.Fields {
	fields := logrus.Fields{
		LogFieldItemID: privacy.MaskItemID(itemID),
	}
	if url == "" {
		return fields
	}
	if IsVerboseLogging(ctx) {
		fields[LogFieldURL] = url
	} else {
		fields[LogFieldURL] = privacy.MaskURL(url)
	}
	return fields
}
