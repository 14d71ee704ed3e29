package app

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/service/storage"
	"context"
	"slices"
	"sort"
	"sync"
)

// peerSet is the paired peers by public key, saved under storage.KeyPeers.
type peerSet struct {
	mu    sync.Mutex
	peers map[string]model.Peer
}

func loadPeers(ctx context.Context, st storage.Storage) (*peerSet, error) {
	var list []model.Peer
	if _, err := storage.GetJSON(ctx, st, storage.KeyPeers, &list); err != nil {
		return nil, err
	}
	s := &peerSet{peers: make(map[string]model.Peer, len(list))}
	for _, p := range list {
		s.peers[p.PublicKey] = p
	}
	return s, nil
}

func (s *peerSet) _save(ctx context.Context, st storage.Storage) error {
	list := make([]model.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PublicKey < list[j].PublicKey })
	return storage.SetJSON(ctx, st, storage.KeyPeers, list)
}

// add stores peer, replacing a peer with the same public key.
func (s *peerSet) add(ctx context.Context, st storage.Storage, peer model.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peer.PublicKey] = peer
	return s._save(ctx, st)
}

func (s *peerSet) remove(ctx context.Context, st storage.Storage, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[publicKey]; !ok {
		return model.ErrNotFound
	}
	delete(s.peers, publicKey)
	return s._save(ctx, st)
}

func (s *peerSet) get(publicKey string) (model.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[publicKey]
	return p, ok
}

func (s *peerSet) list() []model.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out
}

// rememberApp records the metadata of a dApp that asked for permissions.
func (a *App) rememberApp(ctx context.Context, meta model.AppMetadata) error {
	var list []model.AppMetadata
	if _, err := storage.GetJSON(ctx, a.storage, storage.KeyAppMetadata, &list); err != nil {
		return err
	}
	list = slices.DeleteFunc(list, func(m model.AppMetadata) bool { return m.SenderID == meta.SenderID })
	list = append(list, meta)
	return storage.SetJSON(ctx, a.storage, storage.KeyAppMetadata, list)
}

// Apps returns the metadata of dApps that requested permissions.
func (a *App) Apps(ctx context.Context) ([]model.AppMetadata, error) {
	var list []model.AppMetadata
	_, err := storage.GetJSON(ctx, a.storage, storage.KeyAppMetadata, &list)
	return list, err
}
