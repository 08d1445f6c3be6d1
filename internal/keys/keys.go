// Package keys implements the public-key directory: signed pre-key rotation
// and at-most-once consumption of one-time pre-keys.
package keys

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/models"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/apperrors"
)

var ErrBundleUnavailable = errors.New("user has no pre-key bundle")

// signedPreKeyRetention is how many signed pre-keys are kept per user; older
// rows are reaped on upload.
const signedPreKeyRetention = 5

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// PreKeyUpload is one entry of a one-time pre-key batch.
type PreKeyUpload struct {
	KeyID     uint32 `json:"key_id"`
	PublicKey string `json:"public_key"`
}

// UpsertSignedPreKey stores or replaces the signed pre-key identified by
// (userID, keyID), then reaps everything older than the newest five.
func (s *Service) UpsertSignedPreKey(ctx context.Context, userID uuid.UUID, keyID uint32, publicKey, signature string) error {
	if !isBase64(publicKey) || !isBase64(signature) {
		return apperrors.BadRequest("public_key and signature must be base64")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO signed_pre_keys (id, user_id, key_id, public_key, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, key_id) DO UPDATE SET
			public_key = EXCLUDED.public_key,
			signature = EXCLUDED.signature,
			created_at = EXCLUDED.created_at
	`, uuid.New(), userID, keyID, publicKey, signature, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert signed pre-key: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM signed_pre_keys
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM signed_pre_keys
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`, userID, signedPreKeyRetention); err != nil {
		return fmt.Errorf("failed to reap old signed pre-keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit signed pre-key: %w", err)
	}
	return nil
}

// UploadOneTimePreKeys batch-inserts one-time pre-keys; duplicates on
// (userID, keyID) are ignored.
func (s *Service) UploadOneTimePreKeys(ctx context.Context, userID uuid.UUID, uploads []PreKeyUpload) error {
	if len(uploads) == 0 {
		return apperrors.BadRequest("at least one pre-key is required")
	}
	for _, u := range uploads {
		if !isBase64(u.PublicKey) {
			return apperrors.BadRequest(fmt.Sprintf("pre-key %d: public_key must be base64", u.KeyID))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO one_time_pre_keys (id, user_id, key_id, public_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, key_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, u := range uploads {
		if _, err := stmt.ExecContext(ctx, uuid.New(), userID, u.KeyID, u.PublicKey, now); err != nil {
			return fmt.Errorf("failed to store one-time pre-key %d: %w", u.KeyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit one-time pre-keys: %w", err)
	}
	return nil
}

// Bundle assembles the recipient's pre-key bundle in one transaction. The
// oldest one-time key is locked, deleted and returned in the same statement,
// so two concurrent fetches can never hand out the same key; a drained pool
// yields a bundle without a one-time key.
func (s *Service) Bundle(ctx context.Context, userID uuid.UUID) (*models.PreKeyBundle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	bundle := &models.PreKeyBundle{UserID: userID}
	err = tx.QueryRowContext(ctx, `
		SELECT username, registration_id, identity_public_key FROM users WHERE id = $1
	`, userID).Scan(&bundle.Username, &bundle.RegistrationID, &bundle.IdentityPublicKey)
	if err == sql.ErrNoRows {
		return nil, ErrBundleUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	var spk models.SignedPreKey
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, key_id, public_key, signature, created_at
		FROM signed_pre_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&spk.ID, &spk.UserID, &spk.KeyID, &spk.PublicKey, &spk.Signature, &spk.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBundleUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query signed pre-key: %w", err)
	}
	bundle.SignedPreKey = &spk

	var otk models.OneTimePreKey
	err = tx.QueryRowContext(ctx, `
		DELETE FROM one_time_pre_keys
		WHERE id = (
			SELECT id FROM one_time_pre_keys
			WHERE user_id = $1
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, key_id, public_key, created_at
	`, userID).Scan(&otk.ID, &otk.UserID, &otk.KeyID, &otk.PublicKey, &otk.CreatedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to consume one-time pre-key: %w", err)
	}
	if err == nil {
		bundle.OneTimePreKey = &otk
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bundle fetch: %w", err)
	}
	return bundle, nil
}

// CountOneTimeKeys reports how many unconsumed one-time pre-keys remain.
func (s *Service) CountOneTimeKeys(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM one_time_pre_keys WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count one-time pre-keys: %w", err)
	}
	return count, nil
}

func isBase64(s string) bool {
	if s == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
