package model

import (
	"crypto/ed25519"
	"encoding/hex"
)

type (
	// KeyPair is the installation identity. It is derived from a seed kept in
	// secure storage and never changes for the lifetime of the process.
	KeyPair struct {
		PublicKey ed25519.PublicKey
		SecretKey ed25519.PrivateKey
	}

	// SessionKeyPair holds the symmetric keys shared with one remote peer.
	// Rx decrypts what the peer sent us, Tx encrypts what we send to it.
	SessionKeyPair struct {
		Rx [32]byte
		Tx [32]byte
	}
)

func (k KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey)
}

// Credentials log a key pair into a relay node.
type Credentials struct {
	User     string
	Password string
	DeviceID string
}
