package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedKeypairIsStable(t *testing.T) {
	seed, err := NewSeed()
	require.NoError(t, err)

	pub1, priv1, err := NewEd25519KeypairFromSeed(seed)
	require.NoError(t, err)
	pub2, _, err := NewEd25519KeypairFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, pub1, pub2)

	sig := ED25519Sign(priv1, []byte("login"))
	assert.True(t, ED25519Verify(pub1, []byte("login"), sig))
	assert.False(t, ED25519Verify(pub1, []byte("logout"), sig))
	assert.False(t, ED25519Verify([]byte{1}, []byte("login"), sig))

	_, _, err = NewEd25519KeypairFromSeed([]byte("short"))
	assert.Error(t, err)
}
