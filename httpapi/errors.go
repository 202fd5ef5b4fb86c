package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", authcore.TokenTypeBearer)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// writeEngineError maps an engine error onto a status code. Messages are
// fixed strings; engine error text never reaches the client.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *authcore.RateLimitedError
	switch {
	case errors.As(err, &limited):
		middleware.SetRetryAfter(w, limited.RetryAfter)
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests")
	case errors.Is(err, authcore.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests")
	case errors.Is(err, authcore.ErrUnauthorized):
		writeUnauthorized(w)
	case errors.Is(err, authcore.ErrConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, "account or workspace already exists")
	case errors.Is(err, authcore.ErrBadRequest):
		writeBadRequest(w, "invalid request")
	case errors.Is(err, authcore.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case errors.Is(err, authcore.ErrUnavailable), errors.Is(err, authcore.ErrEngineNotReady):
		s.logger.WarnContext(r.Context(), "backend unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "service unavailable")
	default:
		s.logger.ErrorContext(r.Context(), "unhandled engine error", "path", r.URL.Path, "error", err)
		writeInternalError(w)
	}
}
