package main

import (
	"encoding/json"
	"net/http"

	"tgtriage/internal/metrics"
	"tgtriage/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns the in-process metrics registry, plus live gauges
// that are cheaper to read on demand than to keep updated
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())

		s.logger.WithFields(logrus.Fields{
			"request_id": requestInfo.RequestID,
			"trace_id":   requestInfo.TraceID,
			"endpoint":   "/metrics",
		}).Debug("Serving metrics endpoint")

		metrics.SetGauge(metrics.HubSubscribers, float64(s.hub.Len()), nil, "Connected live subscribers")
		if n, err := s.store.CountPendingLogins(r.Context()); err != nil {
			s.errLog.LogWarn(err, "Failed to count pending logins", logrus.Fields{"request_id": requestInfo.RequestID})
		} else {
			metrics.SetGauge(metrics.PendingLogins, float64(n), nil, "Sign-in challenges awaiting a code")
		}
		snapshot := metrics.GetSnapshot()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestInfo.RequestID,
				"trace_id":   requestInfo.TraceID,
				"error":      err,
			}).Error("Failed to encode metrics response")

			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
