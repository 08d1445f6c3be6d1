package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/ratelimit"
)

// maxBodyBytes caps request bodies at 10 MiB.
const maxBodyBytes = 10 << 20

type contextKey int

const (
	userIDKey contextKey = iota
	deviceIDKey
)

// callerID returns the authenticated identity placed by requireAuth.
func callerID(r *http.Request) (uuid.UUID, string) {
	userID, _ := r.Context().Value(userIDKey).(uuid.UUID)
	deviceID, _ := r.Context().Value(deviceIDKey).(string)
	return userID, deviceID
}

// bearerToken extracts the token from an `Authorization: Bearer <t>` header.
// Any other shape — missing header, other scheme, empty token — is treated
// identically as "no token".
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// requireAuth verifies the bearer token and the continued existence of the
// device it names. Every failure renders the same generic 401.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondAuthFailed(w)
			return
		}

		userID, deviceID, err := s.auth.VerifyBearer(r.Context(), token)
		if err != nil {
			respondAuthFailed(w)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, deviceIDKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// rateLimit applies a per-IP window before the handler runs.
func (s *Server) rateLimit(limit ratelimit.Limit, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Allow(r.Context(), limit, clientIP(r)); err != nil {
			respondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// limitBody rejects oversized payloads before handlers read them.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
