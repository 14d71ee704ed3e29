package security

import (
	"beacon_p2p/internal/cryptographic/signature"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/wire"
	"crypto/ed25519"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) model.KeyPair {
	t.Helper()
	seed, err := signature.NewSeed()
	require.NoError(t, err)
	pub, priv, err := signature.NewEd25519KeypairFromSeed(seed)
	require.NoError(t, err)
	return model.KeyPair{PublicKey: pub, SecretKey: priv}
}

func TestSessionKeysAreMirrored(t *testing.T) {
	a, b := newKeyPair(t), newKeyPair(t)

	ab, err := DeriveSessionKeyPair(a, b.PublicKey)
	require.NoError(t, err)
	ba, err := DeriveSessionKeyPair(b, a.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, ab.Tx, ba.Rx)
	assert.Equal(t, ab.Rx, ba.Tx)

	again, err := DeriveSessionKeyPair(a, b.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, ab, again)
}

func TestEncryptDecryptBetweenPeers(t *testing.T) {
	a, b := newKeyPair(t), newKeyPair(t)
	ab, err := DeriveSessionKeyPair(a, b.PublicKey)
	require.NoError(t, err)
	ba, err := DeriveSessionKeyPair(b, a.PublicKey)
	require.NoError(t, err)

	for _, p := range []string{"", "x", "a permission request", string(make([]byte, 4096))} {
		ct, err := Encrypt([]byte(p), ab.Tx)
		require.NoError(t, err)
		pt, err := Decrypt(ct, ba.Rx)
		require.NoError(t, err)
		assert.Equal(t, p, string(pt))

		_, err = Decrypt(ct, ab.Rx)
		assert.ErrorIs(t, err, model.ErrDecryptionFailed)
	}
}

func TestSessionKeysCoalesceConcurrentFirstUse(t *testing.T) {
	a, b := newKeyPair(t), newKeyPair(t)
	s, err := New(a)
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	s.derives = func(remote ed25519.PublicKey) (model.SessionKeyPair, error) {
		calls.Add(1)
		<-release
		return DeriveSessionKeyPair(a, remote)
	}

	remote := hex.EncodeToString(b.PublicKey)
	var wg sync.WaitGroup
	results := make([]model.SessionKeyPair, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := s.SessionKeys(remote)
			assert.NoError(t, err)
			results[i] = k
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}

	_, err = s.SessionKeys(remote)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSealOpen(t *testing.T) {
	a, b := newKeyPair(t), newKeyPair(t)
	sa, err := New(a)
	require.NoError(t, err)
	sb, err := New(b)
	require.NoError(t, err)

	sealed, err := sa.Seal(hex.EncodeToString(b.PublicKey), []byte("hello"))
	require.NoError(t, err)

	out, err := sb.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	_, err = sa.Open(sealed)
	assert.ErrorIs(t, err, model.ErrDecryptionFailed)
}

func TestIsMessageFrom(t *testing.T) {
	a, b := newKeyPair(t), newKeyPair(t)
	sender := RecipientID(a.PublicKey, "relay.example")

	assert.True(t, IsMessageFrom(sender, a.PublicKey))
	assert.False(t, IsMessageFrom(sender, b.PublicKey))
	assert.True(t, IsMessageFromHex(sender, a.PublicKeyHex()))
	assert.False(t, IsMessageFromHex(sender, "not-hex"))
	assert.Equal(t, "relay.example", ServerOf(sender))
}

func TestLoginCredential(t *testing.T) {
	kp := newKeyPair(t)
	now := time.Unix(1_700_000_000, 0)
	c := LoginCredential(kp, now)

	assert.Equal(t, UserHash(kp.PublicKey), c.User)
	assert.Equal(t, kp.PublicKeyHex(), c.DeviceID)
	assert.Regexp(t, "^ed:[0-9a-f]{128}:"+kp.PublicKeyHex()+"$", c.Password)

	assert.True(t, VerifyLoginCredential(c.User, c.Password, now))
	assert.True(t, VerifyLoginCredential(c.User, c.Password, now.Add(5*time.Minute)))
	assert.False(t, VerifyLoginCredential(c.User, c.Password, now.Add(15*time.Minute)))
	assert.False(t, VerifyLoginCredential("someone-else", c.Password, now))
}

func TestSenderIDStable(t *testing.T) {
	kp := newKeyPair(t)
	id := SenderID(kp.PublicKey)
	assert.Equal(t, id, SenderID(kp.PublicKey))
	assert.NotEqual(t, id, SenderID(newKeyPair(t).PublicKey))

	raw, err := wire.DecodeCheck(id)
	require.NoError(t, err)
	assert.Len(t, raw, 5)
}
