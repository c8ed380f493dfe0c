package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/prode/internal/app"
	"github.com/okian/prode/internal/domain/types"
	"github.com/okian/prode/pkg/logger"
)

// AdminDependencies defines the admin-only operations.
type AdminDependencies interface {
	Overview(ctx context.Context) (types.Overview, error)
	RetrySync(ctx context.Context) (int, error)
}

// AdminHandler handles admin requests. Routes are guarded by AdminMiddleware.
type AdminHandler struct {
	deps AdminDependencies
	log  logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies, log logger.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, log: log}
}

type retryResponse struct {
	Queued int `json:"queued"`
}

// HandleOverview handles GET /admin/overview requests.
func (h *AdminHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_overview"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ov, err := h.deps.Overview(r.Context())
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// HandleRetrySync handles POST /admin/retry-sync requests.
func (h *AdminHandler) HandleRetrySync(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_retry_sync"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	n, err := h.deps.RetrySync(r.Context())
	switch {
	case err == nil:
		h.log.Info(r.Context(), "sync retry requested", logger.Int("queued", n))
		writeJSON(w, http.StatusAccepted, retryResponse{Queued: n})
	case errors.Is(err, service.ErrSyncDisabled):
		writeError(w, http.StatusConflict, "sync_disabled", WrapKind(op, ErrConflict, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeInternal(r.Context(), h.log, w, op, err)
	}
}
