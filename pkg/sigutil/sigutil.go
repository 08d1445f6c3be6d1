// Package sigutil holds the signature and nonce primitives used by the
// challenge-response login flow.
package sigutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NonceBytes is the raw entropy of a login challenge; hex-encoded it becomes
// the 64-character nonce the client signs.
const NonceBytes = 32

// GenerateNonce returns a CSPRNG-backed hex nonce of 64 characters.
func GenerateNonce() (string, error) {
	buf := make([]byte, NonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DecodePublicKey decodes a base64 Ed25519 public key and checks its size.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: got %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSignature decodes a base64 Ed25519 signature and checks its size.
func DecodeSignature(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: got %d, want %d", len(raw), ed25519.SignatureSize)
	}
	return raw, nil
}

// Verify checks an Ed25519 signature over the UTF-8 bytes of payload.
func Verify(publicKey ed25519.PublicKey, payload string, signature []byte) bool {
	return ed25519.Verify(publicKey, []byte(payload), signature)
}
