package dh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertedKeysAgree(t *testing.T) {
	pubA, privA, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubB, privB, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	xa := PrivateKeyToX25519(privA)
	xb := PrivateKeyToX25519(privB)

	xpubA, err := PublicKeyToX25519(pubA)
	require.NoError(t, err)
	xpubB, err := PublicKeyToX25519(pubB)
	require.NoError(t, err)

	// the converted public key is the public key of the converted secret
	assert.Equal(t, X25519PublicKey(xa), xpubA)
	assert.Equal(t, X25519PublicKey(xb), xpubB)

	s1, err := X25519SharedSecret(xa, xpubB)
	require.NoError(t, err)
	s2, err := X25519SharedSecret(xb, xpubA)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestPublicKeyToX25519RejectsGarbage(t *testing.T) {
	_, err := PublicKeyToX25519([]byte{1, 2, 3})
	assert.Error(t, err)
}
