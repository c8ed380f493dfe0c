package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/prode/internal/adapters/repository"
	service "github.com/okian/prode/internal/app"
	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/pkg/logger"
)

// PredictionDependencies defines the interface for prediction operations.
type PredictionDependencies interface {
	SubmitPrediction(ctx context.Context, p *model.Prediction, fields ...string) (model.Prediction, error)
	MyPrediction(ctx context.Context, email string) (model.Prediction, error)
}

// PredictionHandler handles prediction requests.
type PredictionHandler struct {
	deps PredictionDependencies
	log  logger.Logger
}

// NewPredictionHandler creates a new prediction handler.
func NewPredictionHandler(deps PredictionDependencies, log logger.Logger) *PredictionHandler {
	return &PredictionHandler{deps: deps, log: log}
}

type mineResponse struct {
	Exists     bool              `json:"exists"`
	Prediction *model.Prediction `json:"prediction"`
}

// HandlePostPrediction handles POST /predictions requests. A second
// submission with the same email updates only the fields present in the body.
func (h *PredictionHandler) HandlePostPrediction(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_prediction"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req model.Prediction
	fields, err := decodeFields(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	// Server-managed fields are never taken from the client.
	req.ID = ""
	req.CreatedAt = time.Time{}
	req.UpdatedAt = time.Time{}
	req.SyncPending = false

	saved, err := h.deps.SubmitPrediction(r.Context(), &req, fields...)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, saved)
	case errors.Is(err, service.ErrDeadlinePassed):
		writeError(w, http.StatusForbidden, "deadline_passed", WrapKind(op, ErrForbidden, err))
	case errors.Is(err, validation.ErrInvalid):
		writeValidationError(w, err)
	case errors.Is(err, repository.ErrInvalidEmail):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid", Field: "email", Message: "required"})
	default:
		writeInternal(r.Context(), h.log, w, op, err)
	}
}

// HandleGetMine handles GET /predictions/mine?email=...&soft=1 requests.
// With soft set, a missing prediction answers 200 with exists=false.
func (h *PredictionHandler) HandleGetMine(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_my_prediction"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	email := strings.TrimSpace(q.Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, service.ErrEmailRequired))
		return
	}
	soft := isTruthy(q.Get("soft"))

	p, err := h.deps.MyPrediction(r.Context(), email)
	switch {
	case err == nil:
		if soft {
			writeJSON(w, http.StatusOK, mineResponse{Exists: true, Prediction: &p})
			return
		}
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, repository.ErrNotFound):
		if soft {
			writeJSON(w, http.StatusOK, mineResponse{Exists: false})
			return
		}
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, service.ErrEmailRequired):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	default:
		writeInternal(r.Context(), h.log, w, op, err)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
