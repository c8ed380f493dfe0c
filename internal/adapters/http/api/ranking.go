package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/prode/internal/domain/ranking"
	"github.com/okian/prode/pkg/logger"
)

// RankingDependencies defines the interface for ranking queries.
type RankingDependencies interface {
	Ranking(ctx context.Context, filter string) (ranking.Ranking, error)
}

// RankingHandler handles ranking requests.
type RankingHandler struct {
	deps RankingDependencies
	log  logger.Logger
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(deps RankingDependencies, log logger.Logger) *RankingHandler {
	return &RankingHandler{deps: deps, log: log}
}

// HandleGetRanking handles GET /ranking?q=... requests.
func (h *RankingHandler) HandleGetRanking(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_ranking"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	rk, err := h.deps.Ranking(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rk)
}

var csvHeader = []string{
	"position", "username", "email", "score",
	"mae_national", "participation_error", "margin_error", "top3_points",
	"submitted_at",
}

// HandleExportCSV handles GET /admin/export/ranking.csv requests.
func (h *RankingHandler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	const op = "api.export_ranking"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	rk, err := h.deps.Ranking(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="ranking.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, e := range rk.Results {
		_ = cw.Write([]string{
			strconv.Itoa(e.Position),
			e.Username,
			e.Email,
			formatFloat(e.Score),
			formatFloat(e.Breakdown.MAENational),
			formatFloat(e.Breakdown.ParticipationError),
			formatFloat(e.Breakdown.MarginError),
			formatFloat(e.Breakdown.Top3Points),
			e.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.log.Error(r.Context(), "csv export interrupted", logger.Error(err))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
