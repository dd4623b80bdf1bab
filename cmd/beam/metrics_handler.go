package main

import (
	"encoding/json"
	"net/http"

	"beam/internal/metrics"
	"beam/internal/service"
	"beam/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())

		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldTraceID:   requestInfo.TraceID,
			}).WithError(err).Error("Failed to encode metrics response")
			return
		}

		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: requestInfo.RequestID,
			"endpoint":                "/metrics",
		}).Debug("Metrics endpoint served")
	}
}
