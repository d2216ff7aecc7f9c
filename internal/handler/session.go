package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/service"
)

// SessionHandler handles HTTP requests for the focus session lifecycle.
type SessionHandler struct {
	service *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// HandleCreate handles POST /api/v1/sessions requests.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.CreateSessionRequest
	if !decodeBody(w, r, smallBodyLimit, &req, false) {
		return
	}

	session, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// HandlePause handles PUT /api/v1/sessions/{id}/pause requests.
func (h *SessionHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Pause)
}

// HandleResume handles PUT /api/v1/sessions/{id}/resume requests.
func (h *SessionHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Resume)
}

// HandleComplete handles POST /api/v1/sessions/{id}/complete requests.
// The body is optional.
func (h *SessionHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req model.CompleteSessionRequest
	if !decodeBody(w, r, smallBodyLimit, &req, true) {
		return
	}
	h.handleTransition(w, r, func(ctx context.Context, userID int64, id string) (*model.FocusSession, error) {
		return h.service.Complete(ctx, userID, id, req)
	})
}

// HandleFail handles POST /api/v1/sessions/{id}/fail requests.
func (h *SessionHandler) HandleFail(w http.ResponseWriter, r *http.Request) {
	var req model.FailSessionRequest
	if !decodeBody(w, r, smallBodyLimit, &req, true) {
		return
	}
	h.handleTransition(w, r, func(ctx context.Context, userID int64, id string) (*model.FocusSession, error) {
		return h.service.Fail(ctx, userID, id, req)
	})
}

// HandleActive handles GET /api/v1/sessions/active requests. The body is the
// RUNNING or PAUSED session, or null when there is none.
func (h *SessionHandler) HandleActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	session, err := h.service.Active(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// HandleStats handles GET /api/v1/sessions/stats?period= requests.
func (h *SessionHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	period := model.StatsPeriod(r.URL.Query().Get("period"))
	summary, err := h.service.Stats(r.Context(), userID, period)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type transitionFunc func(ctx context.Context, userID int64, id string) (*model.FocusSession, error)

func (h *SessionHandler) handleTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("INVALID_ID", "invalid session id"))
		return
	}

	session, err := fn(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
