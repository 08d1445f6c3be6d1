// Package auth implements the challenge-response login flow and the
// single-active-session rule: verifying a challenge replaces every prior
// device row of the user in one transaction, and every bearer check re-reads
// the device row, so a replaced session fails closed without any blacklist.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/models"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/apperrors"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/sigutil"
)

// ErrAuthFailed covers unknown user, absent or expired challenge, and a bad
// signature. Callers must render all of them identically.
var ErrAuthFailed = errors.New("authentication failed")

const (
	// ChallengeTTL is how long a nonce stays signable.
	ChallengeTTL = 120 * time.Second

	maxDeviceIDLen = 255
)

var fcmTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{1,512}$`)

type Service struct {
	db              *sql.DB
	tokens          *TokenMinter
	log             *zap.Logger
	lowKeyThreshold int
}

func NewService(db *sql.DB, tokens *TokenMinter, lowKeyThreshold int, log *zap.Logger) *Service {
	return &Service{db: db, tokens: tokens, log: log, lowKeyThreshold: lowKeyThreshold}
}

// IssueChallenge creates a fresh nonce for the user, deleting any prior
// challenge in the same transaction so at most one is ever active.
func (s *Service) IssueChallenge(ctx context.Context, username, deviceID string) (string, error) {
	if deviceID == "" || len(deviceID) > maxDeviceIDLen {
		return "", apperrors.BadRequest("deviceId must be 1-255 characters")
	}

	var userID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = $1`, username,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrAuthFailed
	}
	if err != nil {
		return "", fmt.Errorf("failed to query user: %w", err)
	}

	nonce, err := sigutil.GenerateNonce()
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM auth_challenges WHERE user_id = $1`, userID,
	); err != nil {
		return "", fmt.Errorf("failed to clear prior challenges: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO auth_challenges (id, user_id, nonce, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), userID, nonce, time.Now().Add(ChallengeTTL), time.Now()); err != nil {
		return "", fmt.Errorf("failed to insert challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit challenge: %w", err)
	}

	return nonce, nil
}

// VerifyParams is the input of a login attempt.
type VerifyParams struct {
	Username  string
	Signature string // base64, 64 bytes decoded
	DeviceID  string
	FCMToken  *string
}

// VerifyResult is returned on successful login.
type VerifyResult struct {
	Token                    string
	User                     *models.User
	RemainingOneTimeKeyCount int
	LowKeyWarn               bool
}

// VerifyChallenge checks the signature over the user's active nonce and, on
// success, installs the device as the user's only session. The challenge row
// is deleted before the signature is checked, so a nonce can never be
// brute-forced by repeated attempts.
func (s *Service) VerifyChallenge(ctx context.Context, p VerifyParams) (*VerifyResult, error) {
	if p.DeviceID == "" || len(p.DeviceID) > maxDeviceIDLen {
		return nil, apperrors.BadRequest("deviceId must be 1-255 characters")
	}
	signature, err := sigutil.DecodeSignature(p.Signature)
	if err != nil {
		return nil, apperrors.BadRequest("signature must be base64 of 64 bytes")
	}
	if p.FCMToken != nil && !fcmTokenPattern.MatchString(*p.FCMToken) {
		return nil, apperrors.BadRequest("malformed fcmToken")
	}

	user, err := s.getUserByUsername(ctx, p.Username)
	if err != nil {
		return nil, err
	}

	nonce, err := s.consumeChallenge(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	publicKey, err := sigutil.DecodePublicKey(user.IdentityPublicKey)
	if err != nil {
		s.log.Warn("stored identity key undecodable", zap.String("user_id", user.ID.String()))
		return nil, ErrAuthFailed
	}
	if !sigutil.Verify(publicKey, nonce, signature) {
		s.log.Warn("challenge signature verification failed",
			zap.String("user_id", user.ID.String()))
		return nil, ErrAuthFailed
	}

	if err := s.installDevice(ctx, user, p.DeviceID, p.FCMToken); err != nil {
		return nil, err
	}

	token, err := s.tokens.Mint(user.ID, p.DeviceID)
	if err != nil {
		return nil, err
	}

	var remaining int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM one_time_pre_keys WHERE user_id = $1`, user.ID,
	).Scan(&remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to count one-time pre-keys: %w", err)
	}

	return &VerifyResult{
		Token:                    token,
		User:                     user,
		RemainingOneTimeKeyCount: remaining,
		LowKeyWarn:               remaining < s.lowKeyThreshold,
	}, nil
}

// Logout removes the (user, device) session row. Deleting an already absent
// row is fine; logout is idempotent.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM devices WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// VerifyBearer validates the token and confirms the device row still exists;
// a device deleted by a newer login renders the token invalid. last_seen_at
// is refreshed in the background so the caller never waits on it.
func (s *Service) VerifyBearer(ctx context.Context, token string) (uuid.UUID, string, error) {
	userID, deviceID, err := s.tokens.Verify(token)
	if err != nil {
		return uuid.Nil, "", ErrInvalidToken
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM devices WHERE user_id = $1 AND device_id = $2)`,
		userID, deviceID,
	).Scan(&exists)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to check device: %w", err)
	}
	if !exists {
		return uuid.Nil, "", ErrInvalidToken
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := s.db.ExecContext(ctx,
			`UPDATE devices SET last_seen_at = $1 WHERE user_id = $2 AND device_id = $3`,
			time.Now(), userID, deviceID,
		); err != nil {
			s.log.Warn("failed to refresh last_seen_at", zap.Error(err))
		}
	}()

	return userID, deviceID, nil
}

func (s *Service) getUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, identity_public_key, registration_id, created_at, updated_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.ID, &user.Username, &user.IdentityPublicKey, &user.RegistrationID,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAuthFailed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// consumeChallenge fetches the newest unexpired nonce and deletes every
// challenge row for the user. The delete commits regardless of what the
// caller does with the nonce afterwards.
func (s *Service) consumeChallenge(ctx context.Context, userID uuid.UUID) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var nonce string
	err = tx.QueryRowContext(ctx, `
		SELECT nonce FROM auth_challenges
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, time.Now()).Scan(&nonce)
	noChallenge := err == sql.ErrNoRows
	if err != nil && !noChallenge {
		return "", fmt.Errorf("failed to query challenge: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM auth_challenges WHERE user_id = $1`, userID,
	); err != nil {
		return "", fmt.Errorf("failed to consume challenge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit challenge consumption: %w", err)
	}

	if noChallenge {
		return "", ErrAuthFailed
	}
	return nonce, nil
}

// installDevice replaces every device row of the user with the new one. Both
// statements run in one transaction: observers see the old device or the new
// one, never both.
func (s *Service) installDevice(ctx context.Context, user *models.User, deviceID string, fcmToken *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM devices WHERE user_id = $1`, user.ID,
	); err != nil {
		return fmt.Errorf("failed to remove prior devices: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, device_id, identity_public_key, registration_id, fcm_token, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), user.ID, deviceID, user.IdentityPublicKey, user.RegistrationID, fcmToken, now, now); err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit device install: %w", err)
	}
	return nil
}
