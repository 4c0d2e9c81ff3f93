package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	sessionHandler "github.com/SakshamManav/File-Synchronization/backend/internal/handler/session"
	watchHandler "github.com/SakshamManav/File-Synchronization/backend/internal/handler/watch"
	middlewarePkg "github.com/SakshamManav/File-Synchronization/backend/internal/middleware"
	"github.com/SakshamManav/File-Synchronization/backend/internal/service/ingest"
	sessionService "github.com/SakshamManav/File-Synchronization/backend/internal/service/session"
	watchService "github.com/SakshamManav/File-Synchronization/backend/internal/service/watch"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/utils"
)

const healthTimeout = 2 * time.Second

// Config collects the HTTP settings of the router.
type Config struct {
	Session     sessionHandler.Config
	CORSOrigins []string
	KeepAlive   time.Duration
}

// NewRouter wires HTTP routes to core services.
func NewRouter(sessions *sessionService.Service, ingestSvc *ingest.Service, watcher *watchService.Service, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORSWithOrigins(cfg.CORSOrigins))

	r.Get("/api/health", handleHealth(sessions))

	sessionHandler.New(sessions, ingestSvc, cfg.Session).RegisterRoutes(r)
	watchHandler.New(watcher, sessions, cfg.KeepAlive).RegisterRoutes(r)

	return r
}

// handleHealth reports whether the session store answers.
func handleHealth(sessions *sessionService.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := sessions.Store().Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check failed")
			utils.RespondJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "UNAVAILABLE"})
			return
		}
		utils.RespondJSON(w, http.StatusOK, api.HealthResponse{Status: "OK"})
	}
}
