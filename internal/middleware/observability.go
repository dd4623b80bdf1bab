package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"beam/internal/httputil"
	"beam/internal/metrics"
	"beam/internal/service"
	"beam/internal/tracing"
)

// ObservabilityMiddleware adds a request ID, a span, metrics and completion logs
// to every request. Metric labels use the route template so device and item
// IDs never become label values.
func ObservabilityMiddleware(logger *logrus.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r)
			ctx, span := tracing.StartSpan(r.Context(), "http "+r.Method+" "+route,
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
			)
			defer span.End()

			requestID := r.Header.Get(tracing.HeaderRequestID)
			if requestID == "" || len(requestID) > 64 {
				requestID = tracing.GenerateRequestID()
			}
			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)
			w.Header().Set(tracing.HeaderRequestID, requestID)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.RecordError(ctx, fmt.Errorf("HTTP %d", wrapper.statusCode))
			}

			metrics.IncrementCounter(metrics.HTTPRequestsTotal, map[string]string{
				"method": r.Method,
				"route":  route,
				"status": status,
			}, "HTTP requests by route and status")
			metrics.RecordTimer(metrics.HTTPRequestDuration, duration, map[string]string{
				"method": r.Method,
				"route":  route,
			}, "HTTP request duration")

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestID,
				service.LogFieldTraceID:    tracing.GetOtelTraceID(ctx),
				service.LogFieldMethod:     r.Method,
				service.LogFieldURL:        route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   httputil.GetClientIP(r, trustProxy),
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// routeLabel returns the matched mux path template, or "unmatched"
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}
