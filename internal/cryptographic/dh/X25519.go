package dh

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// PrivateKeyToX25519 converts an Ed25519 secret key to the X25519 scalar
// that signs with the same identity: the clamped low half of SHA-512(seed).
func PrivateKeyToX25519(sk ed25519.PrivateKey) [32]byte {
	h := sha512.Sum512(sk.Seed())
	var out [32]byte
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out
}

// PublicKeyToX25519 maps an Ed25519 public key to its Montgomery form.
func PublicKeyToX25519(pk ed25519.PublicKey) ([32]byte, error) {
	var out [32]byte
	if len(pk) != ed25519.PublicKeySize {
		return out, fmt.Errorf("invalid ed25519 public key length %d", len(pk))
	}
	p, err := new(edwards25519.Point).SetBytes(pk)
	if err != nil {
		return out, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// Perform X25519 scalar multiplication: priv * pub
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// X25519PublicKey returns priv * basepoint.
func X25519PublicKey(priv [32]byte) [32]byte {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	return pub
}
