package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/keys"
)

func (s *Server) handleUploadSignedPreKey(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r)

	var req struct {
		KeyID     uint32 `json:"key_id"`
		PublicKey string `json:"public_key"`
		Signature string `json:"signature"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.keys.UpsertSignedPreKey(r.Context(), userID, req.KeyID, req.PublicKey, req.Signature); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondMessage(w, http.StatusOK, "Signed pre-key stored")
}

func (s *Server) handleUploadOneTimePreKeys(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r)

	var req struct {
		PreKeys []keys.PreKeyUpload `json:"pre_keys"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.keys.UploadOneTimePreKeys(r.Context(), userID, req.PreKeys); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]int{"stored": len(req.PreKeys)})
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	bundle, err := s.keys.Bundle(r.Context(), targetID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, bundle)
}

func (s *Server) handleCountOneTimeKeys(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	count, err := s.keys.CountOneTimeKeys(r.Context(), targetID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]int{"count": count})
}
