package storage

import (
	"beacon_p2p/internal/cryptographic/encryption"
	"beacon_p2p/internal/cryptographic/kdf"
	"beacon_p2p/internal/cryptographic/signature"
	"beacon_p2p/internal/model"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const seedName = "beacon_sdk_secret_seed"

// FileSecure keeps each secret in its own file under dir, sealed with a key
// stretched from passphrase. File layout: salt || nonce || ciphertext.
type FileSecure struct {
	dir        string
	passphrase string
}

func NewFileSecure(dir, passphrase string) (*FileSecure, error) {
	if passphrase == "" {
		return nil, errors.New("secure storage: empty passphrase")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("secure storage: %w", err)
	}
	return &FileSecure{dir: dir, passphrase: passphrase}, nil
}

func (f *FileSecure) path(name string) string {
	return filepath.Join(f.dir, name+".sealed")
}

func (f *FileSecure) GetSecret(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) < kdf.SaltSize {
		return nil, fmt.Errorf("secure storage: %s is truncated", name)
	}
	key := kdf.PassphraseKey(f.passphrase, data[:kdf.SaltSize])
	out, err := encryption.AEADDecrypt(key, data[kdf.SaltSize:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("secure storage: open %s: %w", name, err)
	}
	return out, nil
}

func (f *FileSecure) SetSecret(_ context.Context, name string, value []byte) error {
	salt := make([]byte, kdf.SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := kdf.PassphraseKey(f.passphrase, salt)
	sealed, err := encryption.AEADEncrypt(key, value, []byte(name))
	if err != nil {
		return err
	}
	tmp := f.path(name) + ".tmp"
	if err := os.WriteFile(tmp, append(salt, sealed...), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(name))
}

// LoadOrCreateSeed returns the installation seed, creating and storing one
// on first use.
func LoadOrCreateSeed(ctx context.Context, s SecureStorage) ([]byte, error) {
	seed, err := s.GetSecret(ctx, seedName)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	seed, err = signature.NewSeed()
	if err != nil {
		return nil, err
	}
	if err := s.SetSecret(ctx, seedName, seed); err != nil {
		return nil, fmt.Errorf("store seed: %w", err)
	}
	return seed, nil
}
