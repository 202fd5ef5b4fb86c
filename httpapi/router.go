package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// healthTimeout bounds the Redis ping behind /healthz.
const healthTimeout = 2 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(bodySizeLimitMiddleware)
	r.Use(middleware.ClientContext(s.proxies))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.engine, s.engine.Config().RateLimit.API))

		r.Post("/signup", s.handleSignUp)
		r.Post("/signin", s.handleSignIn)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/password/forgot", s.handleForgotPassword)
		r.Post("/password/reset", s.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(s.engine))

			r.Get("/me", s.handleMe)
			r.Post("/logout", s.handleLogout)
			r.Post("/logout-all", s.handleLogoutAll)
			r.Post("/password/change", s.handleChangePassword)
			r.Get("/sessions", s.handleListSessions)
			r.Delete("/sessions/{id}", s.handleRevokeSession)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "not found")
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	latency, err := s.engine.Ping(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"version": s.version,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"redis_latency": latency.String(),
	})
}
