package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/focusflow/focusflow-go/internal/middleware"
	"github.com/focusflow/focusflow-go/internal/service"
)

const (
	smallBodyLimit = 1 << 20  // 1MB
	syncBodyLimit  = 10 << 20 // 10MB
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(code, msg string) map[string]string {
	return map[string]string{"error": msg, "code": code}
}

// decodeBody reads a JSON body into v. An empty body is accepted when optional is set.
// It writes the error response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("BODY_TOO_LARGE", "request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("INVALID_BODY", "invalid request body"))
		return false
	}
	return true
}

// requireUser returns the authenticated user, writing a 401 if there is none.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("UNAUTHORIZED", "unauthorized"))
	}
	return userID, ok
}

// writeServiceError maps business errors to their HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("INTERNAL", "internal server error"))
		return
	}

	var status int
	switch {
	case errors.Is(err, service.ErrInvalidDuration),
		errors.Is(err, service.ErrInvalidTaskStatus),
		errors.Is(err, service.ErrInvalidActualDuration),
		errors.Is(err, service.ErrInvalidPeriod),
		errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrInvalidReason),
		errors.Is(err, service.ErrTooManyOperations):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrActiveSessionExists),
		errors.Is(err, service.ErrSessionLimitExceeded),
		errors.Is(err, service.ErrInvalidSessionStatus),
		errors.Is(err, service.ErrSessionAlreadyCompleted),
		errors.Is(err, service.ErrSessionAlreadyFailed):
		status = http.StatusConflict
	case errors.Is(err, service.ErrSessionExpired):
		status = http.StatusGone
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrUserNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusBadRequest
	}

	writeJSON(w, status, errorResponse(svcErr.Code, svcErr.Message))
}
