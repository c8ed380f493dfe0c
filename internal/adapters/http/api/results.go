package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/scoring"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/pkg/logger"
)

// ResultDependencies defines the interface for official result operations.
type ResultDependencies interface {
	CurrentResult(ctx context.Context) (*model.OfficialResult, error)
	PublishResult(ctx context.Context, o *model.OfficialResult) (model.OfficialResult, error)
}

// ResultHandler handles official result requests.
type ResultHandler struct {
	deps ResultDependencies
	log  logger.Logger
}

// NewResultHandler creates a new result handler.
func NewResultHandler(deps ResultDependencies, log logger.Logger) *ResultHandler {
	return &ResultHandler{deps: deps, log: log}
}

type resultsResponse struct {
	Published bool                  `json:"published"`
	Result    *model.OfficialResult `json:"result"`
	TopThree  []string              `json:"top3"`
}

// HandleGetResults handles GET /results requests. Without a published
// result it answers {"published": false}.
func (h *ResultHandler) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_results"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	o, err := h.deps.CurrentResult(r.Context())
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	resp := resultsResponse{Published: o != nil, Result: o, TopThree: scoring.OfficialTopThree(o)}
	if resp.TopThree == nil {
		resp.TopThree = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePublishResult handles POST /admin/results requests.
func (h *ResultHandler) HandlePublishResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.publish_result"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req model.OfficialResult
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	req.ID = ""
	req.CreatedAt = time.Time{}

	saved, err := h.deps.PublishResult(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, saved)
	case errors.Is(err, validation.ErrInvalid):
		writeValidationError(w, err)
	default:
		writeInternal(r.Context(), h.log, w, op, err)
	}
}
