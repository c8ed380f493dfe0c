// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"

	"github.com/okian/prode/internal/domain/types"
	"github.com/okian/prode/internal/domain/validation"
	"github.com/okian/prode/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	PredictionDependencies
	ResultDependencies
	RankingDependencies
	MetadataDependencies
	AdminDependencies
	HealthDependencies
}

// Entry mirrors the row shape returned by ranking queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	metadataHandler   *MetadataHandler
	predictionHandler *PredictionHandler
	resultHandler     *ResultHandler
	rankingHandler    *RankingHandler
	adminHandler      *AdminHandler

	adminToken string
	logger     logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithAdminToken sets the bearer token guarding /admin routes.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithLogger sets the logger used to report internal errors.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	log := s.logger.Named("api")
	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(statsProvider)
	s.metadataHandler = NewMetadataHandler(deps, log)
	s.predictionHandler = NewPredictionHandler(deps, log)
	s.resultHandler = NewResultHandler(deps, log)
	s.rankingHandler = NewRankingHandler(deps, log)
	s.adminHandler = NewAdminHandler(deps, log)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/metadata", MetricsMiddleware(s.metadataHandler.HandleMetadata, "metadata"))
	mux.HandleFunc("/players", MetricsMiddleware(s.metadataHandler.HandlePlayers, "players"))
	mux.HandleFunc("/results", MetricsMiddleware(s.resultHandler.HandleGetResults, "results"))
	mux.HandleFunc("/predictions/mine", MetricsMiddleware(s.predictionHandler.HandleGetMine, "predictions_mine"))
	mux.HandleFunc("/predictions", MetricsMiddleware(s.predictionHandler.HandlePostPrediction, "predictions"))
	mux.HandleFunc("/ranking", MetricsMiddleware(s.rankingHandler.HandleGetRanking, "ranking"))

	admin := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(AdminMiddleware(h, s.adminToken), endpoint)
	}
	mux.HandleFunc("/admin/results", admin(s.resultHandler.HandlePublishResult, "admin_results"))
	mux.HandleFunc("/admin/overview", admin(s.adminHandler.HandleOverview, "admin_overview"))
	mux.HandleFunc("/admin/export/ranking.csv", admin(s.rankingHandler.HandleExportCSV, "admin_export"))
	mux.HandleFunc("/admin/retry-sync", admin(s.adminHandler.HandleRetrySync, "admin_retry_sync"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeValidationError reports the failing field when err is a
// validation.FieldError, and falls back to writeError otherwise.
func writeValidationError(w http.ResponseWriter, err error) {
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid", Field: fe.Field, Message: fe.Message})
		return
	}
	writeError(w, http.StatusBadRequest, "invalid", err)
}

// writeInternal logs err and answers 500 without exposing the cause.
func writeInternal(ctx context.Context, log logger.Logger, w http.ResponseWriter, op string, err error) {
	log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", nil)
}

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeFields reads a JSON object into v and returns its top-level keys.
func decodeFields(r *http.Request, v any) ([]string, error) {
	var raw json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(keys)), nil
}

