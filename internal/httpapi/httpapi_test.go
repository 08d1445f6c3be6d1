package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/auth"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/keys"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/models"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/relay"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/users"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/apperrors"
)

// Stub services

type stubAuth struct {
	userID    uuid.UUID
	deviceID  string
	bearerErr error
	nonce     string
	issueErr  error
	verifyRes *auth.VerifyResult
	verifyErr error
	logoutErr error
}

func (a *stubAuth) IssueChallenge(ctx context.Context, username, deviceID string) (string, error) {
	return a.nonce, a.issueErr
}

func (a *stubAuth) VerifyChallenge(ctx context.Context, p auth.VerifyParams) (*auth.VerifyResult, error) {
	return a.verifyRes, a.verifyErr
}

func (a *stubAuth) Logout(ctx context.Context, userID uuid.UUID, deviceID string) error {
	return a.logoutErr
}

func (a *stubAuth) VerifyBearer(ctx context.Context, token string) (uuid.UUID, string, error) {
	if a.bearerErr != nil {
		return uuid.Nil, "", a.bearerErr
	}
	return a.userID, a.deviceID, nil
}

type stubUsers struct {
	user *models.User
	err  error
}

func (u *stubUsers) Register(ctx context.Context, username, key string, regID uint32) (*models.User, error) {
	return u.user, u.err
}
func (u *stubUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return u.user, u.err
}
func (u *stubUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return u.user, u.err
}
func (u *stubUsers) RotateIdentityKey(ctx context.Context, id uuid.UUID, key string) (*models.User, error) {
	return u.user, u.err
}

type stubKeys struct {
	bundle *models.PreKeyBundle
	count  int
	err    error
}

func (k *stubKeys) UpsertSignedPreKey(ctx context.Context, userID uuid.UUID, keyID uint32, pub, sig string) error {
	return k.err
}
func (k *stubKeys) UploadOneTimePreKeys(ctx context.Context, userID uuid.UUID, uploads []keys.PreKeyUpload) error {
	return k.err
}
func (k *stubKeys) Bundle(ctx context.Context, userID uuid.UUID) (*models.PreKeyBundle, error) {
	return k.bundle, k.err
}
func (k *stubKeys) CountOneTimeKeys(ctx context.Context, userID uuid.UUID) (int, error) {
	return k.count, k.err
}

type stubRelay struct {
	sendRes  *relay.SendResult
	messages []models.OfflineMessage
	deleted  int64
	err      error

	gotRecipient uuid.UUID
	gotLimit     int
}

func (r *stubRelay) Send(ctx context.Context, senderID, recipientID uuid.UUID, ciphertext, messageType string) (*relay.SendResult, error) {
	return r.sendRes, r.err
}
func (r *stubRelay) FetchOffline(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.OfflineMessage, error) {
	r.gotRecipient = recipientID
	r.gotLimit = limit
	return r.messages, r.err
}
func (r *stubRelay) AckDelete(ctx context.Context, recipientID uuid.UUID, messageIDs []uuid.UUID) (int64, error) {
	return r.deleted, r.err
}

type stubHealth struct{ err error }

func (h *stubHealth) Health(ctx context.Context) error { return h.err }

type testEnv struct {
	auth   *stubAuth
	users  *stubUsers
	keys   *stubKeys
	relay  *stubRelay
	health *stubHealth
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		auth:   &stubAuth{userID: uuid.New(), deviceID: "device-1"},
		users:  &stubUsers{},
		keys:   &stubKeys{},
		relay:  &stubRelay{},
		health: &stubHealth{},
	}
	server := NewServer(env.auth, env.users, env.keys, env.relay, nil, env.health, nil, nil, zap.NewNop())
	env.router = server.Router()
	return env
}

func (env *testEnv) request(t *testing.T, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer some-token")
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// Bearer extraction: every malformed header shape renders the same body as a
// missing header.
func TestBearerShapesAllRejectedIdentically(t *testing.T) {
	env := newTestEnv(t)

	headers := []string{"", "Basic abc", "bearer lowercase", "Bearertight", "Token t"}
	var bodies []string
	for _, h := range headers {
		req := httptest.NewRequest("POST", "/api/messages/send", bytes.NewReader([]byte(`{}`)))
		if h != "" {
			req.Header.Set("Authorization", h)
		}
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		bodies = append(bodies, rr.Body.String())
	}
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
	assert.JSONEq(t, `{"success":false,"error":"Authentication failed"}`, bodies[0])
}

func TestRevokedTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	env.auth.bearerErr = auth.ErrInvalidToken

	rr := env.request(t, "GET", "/api/messages/offline", nil, true)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"success":false,"error":"Authentication failed"}`, rr.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.request(t, "GET", "/health", nil, false)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t)
	env.health.err = assert.AnError
	rr := env.request(t, "GET", "/health", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	env.users.user = &models.User{ID: uuid.New(), Username: "alice"}

	rr := env.request(t, "POST", "/api/users/register", map[string]interface{}{
		"username":            "alice",
		"identity_public_key": "a2V5",
		"registration_id":     7,
	}, false)
	assert.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Success bool        `json:"success"`
		Data    models.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "alice", resp.Data.Username)
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.users.err = users.ErrDuplicateUsername

	rr := env.request(t, "POST", "/api/users/register", map[string]string{"username": "alice"}, false)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRegisterMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/users/register", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.auth.nonce = "abc123"

	rr := env.request(t, "POST", "/api/auth/challenge", map[string]string{
		"username": "alice", "deviceId": "d1",
	}, false)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "abc123")
}

// Unknown user, bad signature and consumed challenge must be
// indistinguishable from the outside.
func TestVerifyFailuresAreGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.auth.verifyErr = auth.ErrAuthFailed

	r1 := env.request(t, "POST", "/api/auth/verify", map[string]string{
		"username": "nobody", "signature": "sig", "deviceId": "d1",
	}, false)
	r2 := env.request(t, "POST", "/api/auth/verify", map[string]string{
		"username": "alice", "signature": "wrong", "deviceId": "d1",
	}, false)

	assert.Equal(t, http.StatusUnauthorized, r1.Code)
	assert.Equal(t, r1.Body.String(), r2.Body.String())
	assert.JSONEq(t, `{"success":false,"error":"Authentication failed"}`, r1.Body.String())
}

func TestVerifySuccess(t *testing.T) {
	env := newTestEnv(t)
	env.auth.verifyRes = &auth.VerifyResult{
		Token:                    "jwt-token",
		User:                     &models.User{ID: uuid.New(), Username: "alice"},
		RemainingOneTimeKeyCount: 3,
		LowKeyWarn:               true,
	}

	rr := env.request(t, "POST", "/api/auth/verify", map[string]string{
		"username": "alice", "signature": "sig", "deviceId": "d1",
	}, false)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data struct {
			Token             string `json:"token"`
			RemainingKeyCount int    `json:"remainingKeyCount"`
			LowKeyCount       bool   `json:"lowKeyCount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "jwt-token", resp.Data.Token)
	assert.Equal(t, 3, resp.Data.RemainingKeyCount)
	assert.True(t, resp.Data.LowKeyCount)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	rr := env.request(t, "POST", "/api/auth/logout", nil, true)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	env.relay.sendRes = &relay.SendResult{Delivered: true}

	rr := env.request(t, "POST", "/api/messages/send", map[string]string{
		"recipient_id": uuid.New().String(),
		"ciphertext":   "aGVsbG8=",
	}, true)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"delivered":true`)
}

func TestSendMessageInvalidRecipient(t *testing.T) {
	env := newTestEnv(t)

	rr := env.request(t, "POST", "/api/messages/send", map[string]string{
		"recipient_id": "not-a-uuid",
		"ciphertext":   "aGVsbG8=",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendMessageRecipientUnknown(t *testing.T) {
	env := newTestEnv(t)
	env.relay.err = relay.ErrRecipientUnknown

	rr := env.request(t, "POST", "/api/messages/send", map[string]string{
		"recipient_id": uuid.New().String(),
		"ciphertext":   "aGVsbG8=",
	}, true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSendMessageValidationError(t *testing.T) {
	env := newTestEnv(t)
	env.relay.err = apperrors.BadRequest("ciphertext must be base64 of at most 65536 characters")

	rr := env.request(t, "POST", "/api/messages/send", map[string]string{
		"recipient_id": uuid.New().String(),
		"ciphertext":   "!!!",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFetchOfflineDefaultsLimit(t *testing.T) {
	env := newTestEnv(t)
	env.relay.messages = []models.OfflineMessage{}

	rr := env.request(t, "GET", "/api/messages/offline", nil, true)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 100, env.relay.gotLimit)
	assert.Equal(t, env.auth.userID, env.relay.gotRecipient)
}

func TestFetchOfflineLimitValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, raw := range []string{"0", "101", "-5", "abc"} {
		rr := env.request(t, "GET", "/api/messages/offline?limit="+raw, nil, true)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", raw)
	}

	rr := env.request(t, "GET", "/api/messages/offline?limit=10", nil, true)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 10, env.relay.gotLimit)
}

func TestAckDelete(t *testing.T) {
	env := newTestEnv(t)
	env.relay.deleted = 2

	rr := env.request(t, "DELETE", "/api/messages/batch", map[string][]string{
		"messageIds": {uuid.New().String(), uuid.New().String()},
	}, true)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"deleted":2`)
}

func TestAckDeleteRejectsMalformedIDs(t *testing.T) {
	env := newTestEnv(t)

	rr := env.request(t, "DELETE", "/api/messages/batch", map[string][]string{
		"messageIds": {"not-a-uuid"},
	}, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetBundle(t *testing.T) {
	env := newTestEnv(t)
	target := uuid.New()
	env.keys.bundle = &models.PreKeyBundle{UserID: target, Username: "carol"}

	rr := env.request(t, "GET", "/api/keys/bundle/"+target.String(), nil, true)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "carol")
}

func TestGetBundleUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.keys.err = keys.ErrBundleUnavailable

	rr := env.request(t, "GET", "/api/keys/bundle/"+uuid.New().String(), nil, true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCountOneTimeKeys(t *testing.T) {
	env := newTestEnv(t)
	env.keys.count = 0

	rr := env.request(t, "GET", "/api/keys/one-time-pre-keys/count/"+uuid.New().String(), nil, true)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":0`)
}

func TestFilesUnavailableWithoutStore(t *testing.T) {
	env := newTestEnv(t)

	rr := env.request(t, "POST", "/api/files/upload-url", map[string]string{"file_name": "a.bin"}, true)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
