package api

import (
	"context"
	"net/http"

	"github.com/okian/prode/internal/domain/types"
	"github.com/okian/prode/pkg/logger"
)

// MetadataDependencies defines the catalog and player listings.
type MetadataDependencies interface {
	Metadata() types.Metadata
	Players(ctx context.Context) (types.Players, error)
}

// MetadataHandler handles catalog and player requests.
type MetadataHandler struct {
	deps MetadataDependencies
	log  logger.Logger
}

// NewMetadataHandler creates a new metadata handler.
func NewMetadataHandler(deps MetadataDependencies, log logger.Logger) *MetadataHandler {
	return &MetadataHandler{deps: deps, log: log}
}

// HandleMetadata handles GET /metadata requests.
func (h *MetadataHandler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Metadata())
}

// HandlePlayers handles GET /players requests.
func (h *MetadataHandler) HandlePlayers(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_players"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	players, err := h.deps.Players(r.Context())
	if err != nil {
		writeInternal(r.Context(), h.log, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}
