// Package storage defines the persistence capabilities the engine consumes
// and ships memory, Redis and file-backed implementations of them.
package storage

import (
	"beacon_p2p/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Key string

const (
	KeySyncToken   Key = "matrix_sync_token"
	KeyRooms       Key = "matrix_rooms"
	KeyRelayServer Key = "matrix_relay_server"
	KeyChannels    Key = "matrix_channels"
	KeyAppMetadata Key = "app_metadata_list"
	KeyPermissions Key = "permission_list"
	KeyPeers       Key = "peers"
)

// For scopes a key to one relay node or peer.
func (k Key) For(scope string) Key { return k + ":" + Key(scope) }

type (
	// Storage is the key-value capability used for engine state. Get
	// returns model.ErrNotFound for missing keys.
	Storage interface {
		Get(ctx context.Context, key Key) ([]byte, error)
		Set(ctx context.Context, key Key, value []byte) error
		Delete(ctx context.Context, key Key) error
	}

	// SecureStorage holds secrets such as the installation seed.
	SecureStorage interface {
		GetSecret(ctx context.Context, name string) ([]byte, error)
		SetSecret(ctx context.Context, name string, value []byte) error
	}
)

// GetJSON decodes the value at key into out. It reports false when the key
// does not exist.
func GetJSON(ctx context.Context, s Storage, key Key, out any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Storage, key Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
