package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database ping behind /api/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
// Every route except health goes through the gate for its class.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.gate(classAuthenticate)).Post("/authenticate", s.handleAuthenticate)
			r.With(s.gate(classRegister)).Post("/register", s.handleRegister)
			r.With(s.gate(classVerify)).Get("/verify", s.handleVerify)
			r.With(s.gate(classProtected)).Get("/logout", s.handleLogout)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.gate(classAdmin))
				r.Get("/", s.handleListUsers)
				r.Put("/", s.handleCreateUser)
				r.Patch("/{username}", s.handleUpdateUser)
				r.Delete("/{username}", s.handleDeleteUser)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Use(s.gate(classProtected))
			r.Get("/", s.handleGetSettings)
			r.Patch("/", s.handleSetSettings)
			r.Get("/{property}", s.handleGetSetting)
		})

		r.With(s.gate(classAdmin)).Get("/audit", s.handleListAuditLogs)
	})

	return r
}

// handleHealth reports liveness and, when configured, the database state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"mode":    s.mode.String(),
	}

	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			body["status"] = "degraded"
			body["database"] = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}

	writeJSON(w, http.StatusOK, body)
}
