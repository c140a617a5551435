package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the health endpoints.
type Handler struct {
	monitor *Monitor
}

func NewHandler(monitor *Monitor) *Handler {
	return &Handler{monitor: monitor}
}

// ServeHealth writes the aggregate status, 503 when critical.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": string(report.SystemStatus)})
}

// ServeDetailed writes the full report.
func (h *Handler) ServeDetailed(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
