package security

import (
	"beacon_p2p/internal/cryptographic/dh"
	"beacon_p2p/internal/cryptographic/encryption"
	"beacon_p2p/internal/cryptographic/hash"
	"beacon_p2p/internal/cryptographic/kx"
	"beacon_p2p/internal/cryptographic/signature"
	"beacon_p2p/internal/model"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

type (
	Security struct {
		keyPair model.KeyPair
		xpk     [32]byte
		xsk     [32]byte

		sessions sync.Map // remote public key hex -> model.SessionKeyPair
		group    singleflight.Group
		derives  func(remote ed25519.PublicKey) (model.SessionKeyPair, error)
	}
)

func New(kp model.KeyPair) (*Security, error) {
	xpk, err := dh.PublicKeyToX25519(kp.PublicKey)
	if err != nil {
		return nil, err
	}
	s := &Security{
		keyPair: kp,
		xpk:     xpk,
		xsk:     dh.PrivateKeyToX25519(kp.SecretKey),
	}
	s.derives = func(remote ed25519.PublicKey) (model.SessionKeyPair, error) {
		return DeriveSessionKeyPair(kp, remote)
	}
	return s, nil
}

// KeyPairFromSeed expands a 32 byte seed into the installation key pair.
func KeyPairFromSeed(seed []byte) (model.KeyPair, error) {
	pub, priv, err := signature.NewEd25519KeypairFromSeed(seed)
	if err != nil {
		return model.KeyPair{}, err
	}
	return model.KeyPair{PublicKey: pub, SecretKey: priv}, nil
}

// GenerateKeyPair creates a key pair from a fresh random seed.
func GenerateKeyPair() (model.KeyPair, error) {
	seed, err := signature.NewSeed()
	if err != nil {
		return model.KeyPair{}, err
	}
	return KeyPairFromSeed(seed)
}

// HexKey decodes a hex encoded ed25519 public key.
func HexKey(publicKey string) ([]byte, error) {
	raw, err := hex.DecodeString(publicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key %q", publicKey)
	}
	return raw, nil
}

func (s *Security) KeyPair() model.KeyPair { return s.keyPair }

func (s *Security) PublicKeyHex() string { return s.keyPair.PublicKeyHex() }

// UserHash is the relay user name of this installation.
func (s *Security) UserHash() string { return UserHash(s.keyPair.PublicKey) }

// DeriveSessionKeyPair computes the session keys between local and remote.
// Tx is what local encrypts with; the remote side's Rx has the same value.
func DeriveSessionKeyPair(local model.KeyPair, remote ed25519.PublicKey) (model.SessionKeyPair, error) {
	var out model.SessionKeyPair
	xpk, err := dh.PublicKeyToX25519(local.PublicKey)
	if err != nil {
		return out, err
	}
	xsk := dh.PrivateKeyToX25519(local.SecretKey)
	rpk, err := dh.PublicKeyToX25519(remote)
	if err != nil {
		return out, fmt.Errorf("remote key: %w", err)
	}

	_, tx, err := kx.ServerSessionKeys(xpk, xsk, rpk)
	if err != nil {
		return out, err
	}
	rx, _, err := kx.ClientSessionKeys(xpk, xsk, rpk)
	if err != nil {
		return out, err
	}
	out.Tx, out.Rx = tx, rx
	return out, nil
}

// SessionKeys returns the cached session keys for a peer, deriving them on
// first use. Concurrent first callers share one derivation.
func (s *Security) SessionKeys(remotePublicKey string) (model.SessionKeyPair, error) {
	if v, ok := s.sessions.Load(remotePublicKey); ok {
		return v.(model.SessionKeyPair), nil
	}
	v, err, _ := s.group.Do(remotePublicKey, func() (any, error) {
		if v, ok := s.sessions.Load(remotePublicKey); ok {
			return v, nil
		}
		remote, err := hex.DecodeString(remotePublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		keys, err := s.derives(remote)
		if err != nil {
			return nil, err
		}
		actual, _ := s.sessions.LoadOrStore(remotePublicKey, keys)
		return actual, nil
	})
	if err != nil {
		return model.SessionKeyPair{}, err
	}
	return v.(model.SessionKeyPair), nil
}

// Encrypt returns hex(nonce || secretbox(plaintext, tx)).
func Encrypt(plaintext []byte, tx [32]byte) (string, error) {
	return encryption.Encrypt(tx, plaintext)
}

func Decrypt(payload string, rx [32]byte) ([]byte, error) {
	out, ok := encryption.Decrypt(rx, payload)
	if !ok {
		return nil, model.ErrDecryptionFailed
	}
	return out, nil
}

// EncryptFor encrypts plaintext to the peer owning remotePublicKey.
func (s *Security) EncryptFor(remotePublicKey string, plaintext []byte) (string, error) {
	keys, err := s.SessionKeys(remotePublicKey)
	if err != nil {
		return "", err
	}
	return Encrypt(plaintext, keys.Tx)
}

// DecryptFrom opens a payload sent by the peer owning remotePublicKey.
func (s *Security) DecryptFrom(remotePublicKey string, payload string) ([]byte, error) {
	keys, err := s.SessionKeys(remotePublicKey)
	if err != nil {
		return nil, errors.Join(model.ErrDecryptionFailed, err)
	}
	return Decrypt(payload, keys.Rx)
}

// Seal encrypts a pairing payload to the recipient's identity key.
func (s *Security) Seal(recipientPublicKey string, payload []byte) (string, error) {
	raw, err := hex.DecodeString(recipientPublicKey)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	xpk, err := dh.PublicKeyToX25519(raw)
	if err != nil {
		return "", err
	}
	sealed, err := encryption.SealAnonymous(xpk, payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

// Open reverses Seal with the local identity key.
func (s *Security) Open(sealedHex string) ([]byte, error) {
	raw, err := hex.DecodeString(sealedHex)
	if err != nil {
		return nil, model.ErrDecryptionFailed
	}
	out, ok := encryption.OpenAnonymous(s.xpk, s.xsk, raw)
	if !ok {
		return nil, model.ErrDecryptionFailed
	}
	return out, nil
}

// UserHash is hex(BLAKE2b-256(publicKey)), the relay user name of a key.
func UserHash(publicKey []byte) string {
	return hash.Blake2b256Hex(publicKey)
}

// RecipientID is the fully qualified relay user of publicKey on relayServer.
func RecipientID(publicKey []byte, relayServer string) string {
	return "@" + UserHash(publicKey) + ":" + relayServer
}
