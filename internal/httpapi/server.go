// Package httpapi is the transport edge: routing, bearer middleware, rate
// limiting, request validation and the JSON response envelope.
package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/auth"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/keys"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/models"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/ratelimit"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/relay"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/storage"
)

// The service interfaces cover exactly what the handlers call; tests
// substitute stubs.

type AuthService interface {
	IssueChallenge(ctx context.Context, username, deviceID string) (string, error)
	VerifyChallenge(ctx context.Context, p auth.VerifyParams) (*auth.VerifyResult, error)
	Logout(ctx context.Context, userID uuid.UUID, deviceID string) error
	VerifyBearer(ctx context.Context, token string) (uuid.UUID, string, error)
}

type UserService interface {
	Register(ctx context.Context, username, identityPublicKey string, registrationID uint32) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	RotateIdentityKey(ctx context.Context, id uuid.UUID, identityPublicKey string) (*models.User, error)
}

type KeyService interface {
	UpsertSignedPreKey(ctx context.Context, userID uuid.UUID, keyID uint32, publicKey, signature string) error
	UploadOneTimePreKeys(ctx context.Context, userID uuid.UUID, uploads []keys.PreKeyUpload) error
	Bundle(ctx context.Context, userID uuid.UUID) (*models.PreKeyBundle, error)
	CountOneTimeKeys(ctx context.Context, userID uuid.UUID) (int, error)
}

type RelayService interface {
	Send(ctx context.Context, senderID, recipientID uuid.UUID, ciphertext, messageType string) (*relay.SendResult, error)
	FetchOffline(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.OfflineMessage, error)
	AckDelete(ctx context.Context, recipientID uuid.UUID, messageIDs []uuid.UUID) (int64, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

type Server struct {
	auth    AuthService
	users   UserService
	keys    KeyService
	relay   RelayService
	files   storage.BlobStore
	health  HealthChecker
	limiter *ratelimit.Limiter
	socket  http.Handler
	log     *zap.Logger
}

func NewServer(
	authSvc AuthService,
	userSvc UserService,
	keySvc KeyService,
	relaySvc RelayService,
	files storage.BlobStore,
	health HealthChecker,
	limiter *ratelimit.Limiter,
	socket http.Handler,
	log *zap.Logger,
) *Server {
	return &Server{
		auth:    authSvc,
		users:   userSvc,
		keys:    keySvc,
		relay:   relaySvc,
		files:   files,
		health:  health,
		limiter: limiter,
		socket:  socket,
		log:     log,
	}
}
