package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// writeJSON serializes a response body with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Warnf("Could not encode response: %v", err)
	}
}

// errorResponse returns a formatted error body and tracks it in metrics.
func (s *Server) errorResponse(w http.ResponseWriter, endpoint string, statusCode int, msg string) {
	logrus.Warn(msg)

	if s.metrics != nil {
		s.metrics.requestCounter.WithLabelValues(endpoint, "error").Inc()
	}

	writeJSON(w, statusCode, map[string]string{"error": msg})
}
