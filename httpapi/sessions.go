package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/go-chi/chi/v5"
)

// handleLogout blacklists the presented access token. A refresh_token in
// the body is revoked as well.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	token, hasToken := middleware.AccessTokenFromContext(r.Context())
	if !ok || !hasToken {
		writeUnauthorized(w)
		return
	}

	var req refreshRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.engine.Logout(r.Context(), claims.Subject, token); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if req.RefreshToken != "" {
		if err := s.engine.RevokeRefreshToken(r.Context(), claims.Subject, req.RefreshToken); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if err := s.engine.LogoutAll(r.Context(), claims.Subject); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	sessions, err := s.engine.ListActiveSessions(r.Context(), claims.Subject)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []authcore.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	if err := s.engine.RevokeSession(r.Context(), claims.Subject, chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
