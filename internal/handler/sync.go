package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/service"
)

// SyncHandler handles device sync requests.
type SyncHandler struct {
	service *service.SyncService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(svc *service.SyncService) *SyncHandler {
	return &SyncHandler{service: svc}
}

// HandleSync handles POST /api/v1/sync/{entity} requests, where entity is
// tasks or sessions.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	entity := model.EntityType(chi.URLParam(r, "entity"))
	if !entity.Valid() {
		writeJSON(w, http.StatusNotFound, errorResponse("UNKNOWN_ENTITY", "unknown sync entity"))
		return
	}

	var req model.SyncRequest
	if !decodeBody(w, r, syncBodyLimit, &req, false) {
		return
	}

	var (
		resp any
		err  error
	)
	switch entity {
	case model.EntityTask:
		resp, err = h.service.SyncTasks(r.Context(), userID, req)
	case model.EntitySession:
		resp, err = h.service.SyncSessions(r.Context(), userID, req)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
