package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/auth"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.health.Health(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "Database unhealthy")
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// User handlers

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username          string `json:"username"`
		IdentityPublicKey string `json:"identity_public_key"`
		RegistrationID    uint32 `json:"registration_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.users.Register(r.Context(), req.Username, req.IdentityPublicKey, req.RegistrationID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusCreated, user)
}

func (s *Server) handleGetUserByUsername(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	user, err := s.users.GetByUsername(r.Context(), username)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, user)
}

func (s *Server) handleRotateIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req struct {
		IdentityPublicKey string `json:"identity_public_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.users.RotateIdentityKey(r.Context(), id, req.IdentityPublicKey)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, user)
}

// Auth handlers

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		DeviceID string `json:"deviceId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	nonce, err := s.auth.IssueChallenge(r.Context(), req.Username, req.DeviceID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"nonce": nonce})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string  `json:"username"`
		Signature string  `json:"signature"`
		DeviceID  string  `json:"deviceId"`
		FCMToken  *string `json:"fcmToken,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.auth.VerifyChallenge(r.Context(), auth.VerifyParams{
		Username:  req.Username,
		Signature: req.Signature,
		DeviceID:  req.DeviceID,
		FCMToken:  req.FCMToken,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"token":             result.Token,
		"user":              result.User,
		"remainingKeyCount": result.RemainingOneTimeKeyCount,
		"lowKeyCount":       result.LowKeyWarn,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, deviceID := callerID(r)

	if err := s.auth.Logout(r.Context(), userID, deviceID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondMessage(w, http.StatusOK, "Logged out")
}

// decodeJSON parses the body into dst, rendering a 400 on malformed or
// oversized input. It reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
