package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"beam/internal/privacy"
	"beam/internal/service"
	"beam/internal/tracing"
)

// DetailedLoggingConfig controls what gets logged in verbose mode
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool     `json:"log_request_headers"`
	LogResponseHeaders bool     `json:"log_response_headers"`
	SkipEndpoints      []string `json:"skip_endpoints"`
}

// DefaultDetailedLoggingConfig logs request headers and skips probe endpoints
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders:  true,
		LogResponseHeaders: false,
		SkipEndpoints:      []string{"/healthz", "/metrics"},
	}
}

// DetailedLoggingMiddleware logs request and response headers at debug level.
// Sensitive headers (X-Inbox-Key, Authorization, Cookie) are always redacted
// and bodies are never logged because they carry the relayed URLs.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path, config.SkipEndpoints) {
				next.ServeHTTP(w, r)
				return
			}

			fields := logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.Path,
				"content_length":          r.ContentLength,
				"protocol":                r.Proto,
			}
			if config.LogRequestHeaders {
				fields["request_headers"] = privacy.RedactHeaders(r.Header)
			}
			logger.WithFields(fields).Debug("Detailed request logging")

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			respFields := logrus.Fields{
				service.LogFieldRequestID:  tracing.GetRequestID(r.Context()),
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldSize:       wrapper.responseSize,
			}
			if config.LogResponseHeaders {
				respFields["response_headers"] = privacy.RedactHeaders(w.Header())
			}
			logger.WithFields(respFields).Debug("Detailed response logging")
		})
	}
}

func skipPath(path string, skip []string) bool {
	for _, s := range skip {
		if path == s || strings.HasPrefix(path, s+"/") {
			return true
		}
	}
	return false
}
