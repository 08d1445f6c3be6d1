package sigutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateNonce(t *testing.T) {
	n1, err := GenerateNonce()
	require.NoError(t, err)
	assert.Len(t, n1, 64)

	n2, err := GenerateNonce()
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
}

func TestVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	nonce, err := GenerateNonce()
	require.NoError(t, err)

	sig := ed25519.Sign(priv, []byte(nonce))
	assert.True(t, Verify(pub, nonce, sig))
	assert.False(t, Verify(pub, nonce+"x", sig))

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.False(t, Verify(otherPub, nonce, sig))
}

func TestDecodePublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	decoded, err := DecodePublicKey(base64.StdEncoding.EncodeToString(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)

	_, err = DecodePublicKey("not base64!!!")
	assert.Error(t, err)

	_, err = DecodePublicKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestDecodeSignature(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, []byte("payload"))
	decoded, err := DecodeSignature(base64.StdEncoding.EncodeToString(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, decoded)

	_, err = DecodeSignature(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)
}
