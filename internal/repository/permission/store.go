// Package permission persists what a wallet granted to dApps, either in
// the engine's key-value storage or in MongoDB.
package permission

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/service/storage"
	"context"
	"slices"
	"sync"
)

// Repository is implemented by PermissionRepo and Store.
type Repository interface {
	Save(ctx context.Context, p model.Permission) error
	GetByAccountID(ctx context.Context, accountID string) (*model.Permission, error)
	List(ctx context.Context) ([]model.Permission, error)
	Delete(ctx context.Context, accountID string) error
}

var (
	_ Repository = (*PermissionRepo)(nil)
	_ Repository = (*Store)(nil)
)

// Store keeps all permissions as one list under storage.KeyPermissions.
type Store struct {
	mu sync.Mutex
	st storage.Storage
}

func NewStore(st storage.Storage) *Store {
	return &Store{st: st}
}

func (s *Store) load(ctx context.Context) ([]model.Permission, error) {
	var out []model.Permission
	if _, err := storage.GetJSON(ctx, s.st, storage.KeyPermissions, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, p model.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	all = slices.DeleteFunc(all, func(o model.Permission) bool { return o.AccountID == p.AccountID })
	all = append(all, p)
	return storage.SetJSON(ctx, s.st, storage.KeyPermissions, all)
}

func (s *Store) GetByAccountID(ctx context.Context, accountID string) (*model.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.AccountID == accountID {
			return &p, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *Store) List(ctx context.Context) ([]model.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = []model.Permission{}
	}
	return all, nil
}

func (s *Store) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	all = slices.DeleteFunc(all, func(o model.Permission) bool { return o.AccountID == accountID })
	return storage.SetJSON(ctx, s.st, storage.KeyPermissions, all)
}
