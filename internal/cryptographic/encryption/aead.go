package encryption

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEADEncrypt seals plaintext with XChaCha20-Poly1305 under a 32-byte key and
// returns nonce || ciphertext.
func AEADEncrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func AEADDecrypt(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}
	ns := aead.NonceSize()
	if len(nonceAndCiphertext) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plain, err := aead.Open(nil, nonceAndCiphertext[:ns], nonceAndCiphertext[ns:], aad)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plain, nil
}
