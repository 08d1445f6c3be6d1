package users

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/apperrors"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db), mock
}

func testIdentityKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub)
}

func TestRegister(t *testing.T) {
	svc, mock := newTestService(t)
	key := testIdentityKey(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := svc.Register(context.Background(), "alice", key, 42)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, uint32(42), user.RegistrationID)
	assert.NotEqual(t, uuid.Nil, user.ID)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, mock := newTestService(t)
	key := testIdentityKey(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := svc.Register(context.Background(), "alice", key, 42)
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	key := testIdentityKey(t)

	cases := []struct {
		name     string
		username string
		key      string
	}{
		{"short username", "ab", key},
		{"username with spaces", "a b c", key},
		{"bad key encoding", "alice", "%%%"},
		{"wrong key size", "alice", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.username, tc.key, 1)
			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.CodeBadRequest, appErr.Code)
		})
	}
}

func TestGetByUsernameNotFound(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`SELECT id, username, identity_public_key`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRotateIdentityKey(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()
	key := testIdentityKey(t)

	mock.ExpectExec(`UPDATE users SET identity_public_key`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, username, identity_public_key`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "identity_public_key", "registration_id", "created_at", "updated_at",
		}).AddRow(id.String(), "alice", key, 42, time.Now(), time.Now()))

	user, err := svc.RotateIdentityKey(context.Background(), id, key)
	require.NoError(t, err)
	assert.Equal(t, key, user.IdentityPublicKey)
}

func TestRotateIdentityKeyUnknownUser(t *testing.T) {
	svc, mock := newTestService(t)
	key := testIdentityKey(t)

	mock.ExpectExec(`UPDATE users SET identity_public_key`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.RotateIdentityKey(context.Background(), uuid.New(), key)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
