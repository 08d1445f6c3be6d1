package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, _ := callerID(r)

	var req struct {
		RecipientID string `json:"recipient_id"`
		Ciphertext  string `json:"ciphertext"`
		Type        string `json:"type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid recipient id")
		return
	}

	result, err := s.relay.Send(r.Context(), senderID, recipientID, req.Ciphertext, req.Type)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, result)
}

func (s *Server) handleFetchOffline(w http.ResponseWriter, r *http.Request) {
	recipientID, _ := callerID(r)

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	messages, err := s.relay.FetchOffline(r.Context(), recipientID, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, messages)
}

func (s *Server) handleAckDelete(w http.ResponseWriter, r *http.Request) {
	recipientID, _ := callerID(r)

	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ids := make([]uuid.UUID, 0, len(req.MessageIDs))
	for _, raw := range req.MessageIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "messageIds must be well-formed UUIDs")
			return
		}
		ids = append(ids, id)
	}

	deleted, err := s.relay.AckDelete(r.Context(), recipientID, ids)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
