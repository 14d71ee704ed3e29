package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
)

// NewSeed returns a fresh 32-byte seed for an installation key pair.
func NewSeed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("rand.Read seed: %w", err)
	}
	return seed, nil
}

func NewEd25519KeypairFromSeed(seed []byte) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("invalid seed length %d", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv, nil
}

func ED25519Sign(privKeyBytes []byte, message []byte) []byte {
	privKey := ed25519.PrivateKey(privKeyBytes)
	return ed25519.Sign(privKey, message)
}

func ED25519Verify(pubKeyBytes []byte, message []byte, signature []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	pubKey := ed25519.PublicKey(pubKeyBytes)
	return ed25519.Verify(pubKey, message, signature)
}
