package httpapi

import (
	"net/http"
)

func (s *Server) handleFileUploadURL(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		respondError(w, http.StatusServiceUnavailable, "File storage unavailable")
		return
	}

	userID, _ := callerID(r)

	var req struct {
		FileName string `json:"file_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FileName == "" {
		respondError(w, http.StatusBadRequest, "file_name is required")
		return
	}

	presigned, err := s.files.PresignUpload(r.Context(), userID, req.FileName)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, presigned)
}

func (s *Server) handleFileDownloadURL(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		respondError(w, http.StatusServiceUnavailable, "File storage unavailable")
		return
	}

	var req struct {
		StorageKey string `json:"storage_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StorageKey == "" {
		respondError(w, http.StatusBadRequest, "storage_key is required")
		return
	}

	presigned, err := s.files.PresignDownload(r.Context(), req.StorageKey)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, presigned)
}
