package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/focusflow/focusflow-go/internal/middleware"
	"github.com/focusflow/focusflow-go/internal/service"
)

// RouterConfig carries the settings the HTTP surface needs.
type RouterConfig struct {
	JWTSecret     string
	SyncRateRPS   float64
	SyncRateBurst int
}

// NewRouter wires the session and sync endpoints.
func NewRouter(cfg RouterConfig, sessions *service.SessionService, syncSvc *service.SyncService) http.Handler {
	sessionHandler := NewSessionHandler(sessions)
	syncHandler := NewSyncHandler(syncSvc)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.HandleCreate)
			r.Get("/active", sessionHandler.HandleActive)
			r.Get("/stats", sessionHandler.HandleStats)
			r.Put("/{id}/pause", sessionHandler.HandlePause)
			r.Put("/{id}/resume", sessionHandler.HandleResume)
			r.Post("/{id}/complete", sessionHandler.HandleComplete)
			r.Post("/{id}/fail", sessionHandler.HandleFail)
		})

		r.Group(func(r chi.Router) {
			if cfg.SyncRateRPS > 0 {
				r.Use(middleware.RateLimit(cfg.SyncRateRPS, cfg.SyncRateBurst))
			}
			r.Post("/sync/{entity}", syncHandler.HandleSync)
		})
	})

	return r
}
