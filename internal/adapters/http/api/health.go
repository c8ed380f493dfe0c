package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/prode/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthDependencies defines what the health check pings.
type HealthDependencies interface {
	Ping(ctx context.Context) error
	Open() bool
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	deps HealthDependencies
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps HealthDependencies) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
	Open   bool   `json:"open"`
	Time   string `json:"time"`
}

// HandleHealth handles GET /healthz requests. It answers 503 when the store
// cannot be reached.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	resp := healthResponse{
		Status: "ok",
		DB:     "ok",
		Open:   h.deps.Open(),
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := h.deps.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.DB = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// MetricsHandler serves the Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
