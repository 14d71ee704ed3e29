package encryption

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const NonceSize = 24

// Encrypt seals plaintext with key and returns hex(nonce || box).
func Encrypt(key [32]byte, plaintext []byte) (string, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("rand.Read nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plaintext, &nonce, &key)
	return hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It returns ok=false on malformed input, a wrong
// key or a tampered box.
func Decrypt(key [32]byte, payload string) ([]byte, bool) {
	raw, err := hex.DecodeString(payload)
	if err != nil || len(raw) < NonceSize+secretbox.Overhead {
		return nil, false
	}
	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	return secretbox.Open(nil, raw[NonceSize:], &nonce, &key)
}

// SealAnonymous encrypts msg to recipient so only the holder of the matching
// X25519 secret can open it. The sender stays anonymous.
func SealAnonymous(recipient [32]byte, msg []byte) ([]byte, error) {
	out, err := box.SealAnonymous(nil, msg, &recipient, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("box.SealAnonymous: %w", err)
	}
	return out, nil
}

func OpenAnonymous(pub, priv [32]byte, sealed []byte) ([]byte, bool) {
	return box.OpenAnonymous(nil, sealed, &pub, &priv)
}
