package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/ratelimit"
)

// Router wires every route with its middleware chain.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Registration and directory lookups are unauthenticated; clients need
	// them before they have a session.
	router.HandleFunc("/api/users/register", s.handleRegister).Methods("POST")
	router.HandleFunc("/api/users/by-username/{username}", s.handleGetUserByUsername).Methods("GET")
	router.HandleFunc("/api/users/{id}", s.handleGetUser).Methods("GET")
	router.HandleFunc("/api/users/{id}/identity", s.handleRotateIdentity).Methods("PUT")

	router.HandleFunc("/api/auth/challenge",
		s.rateLimit(ratelimit.LimitChallenge, s.handleChallenge)).Methods("POST")
	router.HandleFunc("/api/auth/verify",
		s.rateLimit(ratelimit.LimitVerify, s.handleVerify)).Methods("POST")
	router.HandleFunc("/api/auth/logout",
		s.rateLimit(ratelimit.LimitLogout, s.requireAuth(s.handleLogout))).Methods("POST")

	router.HandleFunc("/api/keys/signed-pre-key",
		s.api(s.handleUploadSignedPreKey)).Methods("POST")
	router.HandleFunc("/api/keys/one-time-pre-keys",
		s.api(s.handleUploadOneTimePreKeys)).Methods("POST")
	router.HandleFunc("/api/keys/bundle/{userId}",
		s.api(s.handleGetBundle)).Methods("GET")
	router.HandleFunc("/api/keys/one-time-pre-keys/count/{userId}",
		s.api(s.handleCountOneTimeKeys)).Methods("GET")

	router.HandleFunc("/api/messages/send",
		s.api(s.handleSendMessage)).Methods("POST")
	router.HandleFunc("/api/messages/offline",
		s.api(s.handleFetchOffline)).Methods("GET")
	router.HandleFunc("/api/messages/batch",
		s.api(s.handleAckDelete)).Methods("DELETE")

	router.HandleFunc("/api/files/upload-url",
		s.rateLimit(ratelimit.LimitFiles, s.requireAuth(s.handleFileUploadURL))).Methods("POST")
	router.HandleFunc("/api/files/download-url",
		s.rateLimit(ratelimit.LimitFiles, s.requireAuth(s.handleFileDownloadURL))).Methods("POST")

	if s.socket != nil {
		router.Handle("/ws", s.socket).Methods("GET")
	}

	return limitBody(router)
}

// api is the middleware chain of authenticated JSON endpoints.
func (s *Server) api(next http.HandlerFunc) http.HandlerFunc {
	return s.rateLimit(ratelimit.LimitAPI, s.requireAuth(next))
}
