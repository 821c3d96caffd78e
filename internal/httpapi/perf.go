package httpapi

import "net/http"

// handlePerfLatency reports rolling per-stage turn latency. Without metrics
// the snapshot is empty.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencyReport())
}
