package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers every bearer failure: bad signature, expiry,
// malformed claims, and a device that was remotely revoked.
var ErrInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// TokenMinter signs and verifies session tokens with a symmetric secret.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenMinter(secret string, ttl time.Duration) *TokenMinter {
	return &TokenMinter{secret: []byte(secret), ttl: ttl}
}

// Mint issues a token carrying the (userID, deviceID) pair.
func (m *TokenMinter) Mint(userID uuid.UUID, deviceID string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify extracts and cryptographically verifies a token in one step. The
// only outputs are a valid (userID, deviceID) pair or ErrInvalidToken; no
// intermediate state escapes for callers to branch on.
func (m *TokenMinter) Verify(token string) (uuid.UUID, string, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, "", ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || claims.DeviceID == "" {
		return uuid.Nil, "", ErrInvalidToken
	}
	return userID, claims.DeviceID, nil
}
