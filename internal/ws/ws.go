// Package ws upgrades authenticated clients to websockets and binds them to
// the session registry. The handshake re-checks the device row, so a token
// from a remotely logged-out session cannot open a socket.
package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenVerifier is the slice of the auth service the handshake needs.
type TokenVerifier interface {
	VerifyBearer(ctx context.Context, token string) (uuid.UUID, string, error)
}

type Handler struct {
	verifier TokenVerifier
	registry *registry.Registry
	log      *zap.Logger
}

func NewHandler(verifier TokenVerifier, reg *registry.Registry, log *zap.Logger) *Handler {
	return &Handler{verifier: verifier, registry: reg, log: log}
}

// ServeHTTP authenticates the handshake and registers the socket. The token
// travels in the `token` query parameter or an Authorization header;
// browsers cannot set headers on websocket dials, so the query form is the
// common path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if token == "" {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	userID, deviceID, err := h.verifier.VerifyBearer(r.Context(), token)
	if err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), conn)
	h.registry.Connect(&registry.Session{
		UserID:   userID,
		DeviceID: deviceID,
		SocketID: client.SocketID(),
		Conn:     client,
	})
	h.log.Info("socket connected",
		zap.String("user_id", userID.String()),
		zap.String("socket_id", client.SocketID()))

	go client.writePump()
	go client.readPump(func() {
		h.registry.Disconnect(userID, deviceID, client.SocketID())
		h.log.Info("socket disconnected",
			zap.String("user_id", userID.String()),
			zap.String("socket_id", client.SocketID()))
	})
}

func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
