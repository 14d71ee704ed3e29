package kdf

import "golang.org/x/crypto/argon2"

const (
	SaltSize = 16
	KeySize  = 32
)

// PassphraseKey stretches a passphrase into a 32-byte key with Argon2id
// (t=3, m=64MiB, p=2).
func PassphraseKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 3, 64*1024, 2, KeySize)
}
