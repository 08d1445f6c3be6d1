// Package users manages account registration and lookup.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/models"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/apperrors"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/sigutil"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already taken")
)

const uniqueViolation = "23505"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,64}$`)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Register creates a user. The identity key must decode to a 32-byte Ed25519
// public key; the username is globally unique.
func (s *Service) Register(ctx context.Context, username, identityPublicKey string, registrationID uint32) (*models.User, error) {
	if !usernamePattern.MatchString(username) {
		return nil, apperrors.BadRequest("username must be 3-64 characters of letters, digits, '_', '.' or '-'")
	}
	if _, err := sigutil.DecodePublicKey(identityPublicKey); err != nil {
		return nil, apperrors.BadRequest("identity_public_key must be base64 of a 32-byte Ed25519 key")
	}

	now := time.Now()
	user := &models.User{
		ID:                uuid.New(),
		Username:          username,
		IdentityPublicKey: identityPublicKey,
		RegistrationID:    registrationID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, identity_public_key, registration_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Username, user.IdentityPublicKey, user.RegistrationID, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *Service) getUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, identity_public_key, registration_id, created_at, updated_at
		FROM users `+where,
		arg,
	).Scan(
		&user.ID, &user.Username, &user.IdentityPublicKey, &user.RegistrationID,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// RotateIdentityKey replaces the user's Ed25519 identity key. The old key is
// not retained; pre-keys signed with it stay until the owner re-uploads.
func (s *Service) RotateIdentityKey(ctx context.Context, id uuid.UUID, identityPublicKey string) (*models.User, error) {
	if _, err := sigutil.DecodePublicKey(identityPublicKey); err != nil {
		return nil, apperrors.BadRequest("identity_public_key must be base64 of a 32-byte Ed25519 key")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET identity_public_key = $1, updated_at = $2 WHERE id = $3
	`, identityPublicKey, time.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate identity key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrUserNotFound
	}

	return s.GetByID(ctx, id)
}
