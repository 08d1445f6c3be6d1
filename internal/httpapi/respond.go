package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/auth"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/keys"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/ratelimit"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/relay"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/users"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/apperrors"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: true, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// respondAuthFailed writes the one generic 401 body used for every
// authentication failure, whatever its cause.
func respondAuthFailed(w http.ResponseWriter) {
	respondError(w, http.StatusUnauthorized, "Authentication failed")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondServiceError maps domain errors to HTTP statuses. Anything
// unrecognized is an internal error: logged with detail, rendered without.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	switch {
	case errors.Is(err, auth.ErrAuthFailed), errors.Is(err, auth.ErrInvalidToken):
		respondAuthFailed(w)
	case errors.Is(err, users.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, users.ErrDuplicateUsername):
		respondError(w, http.StatusConflict, "Username already taken")
	case errors.Is(err, relay.ErrRecipientUnknown):
		respondError(w, http.StatusNotFound, "Recipient not found")
	case errors.Is(err, keys.ErrBundleUnavailable):
		respondError(w, http.StatusNotFound, "Pre-key bundle not available")
	case errors.Is(err, ratelimit.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "Too many requests")
	case errors.As(err, &appErr):
		switch appErr.Code {
		case apperrors.CodeBadRequest:
			respondError(w, http.StatusBadRequest, appErr.Message)
		case apperrors.CodeAuthFailed:
			respondAuthFailed(w)
		case apperrors.CodeNotFound:
			respondError(w, http.StatusNotFound, appErr.Message)
		case apperrors.CodeConflict:
			respondError(w, http.StatusConflict, appErr.Message)
		case apperrors.CodeRateLimited:
			respondError(w, http.StatusTooManyRequests, appErr.Message)
		default:
			s.log.Error("internal error", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Internal server error")
		}
	default:
		s.log.Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
