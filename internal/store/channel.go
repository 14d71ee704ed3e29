package store

import (
	"beacon_p2p/internal/service/storage"
	"context"
)

type (
	// ChannelState maps peers to their active relay room.
	ChannelState struct {
		ActiveChannels   map[string]string   `json:"activeChannels"`
		InactiveChannels map[string]struct{} `json:"inactiveChannels"`
		RelayServer      string              `json:"-"`
	}

	ChannelCreated struct {
		Peer string
		Room string
	}

	// ChannelEvent records traffic from Peer in Room. An inactive room
	// never becomes active again.
	ChannelEvent struct {
		Peer string
		Room string
	}

	ChannelClosed struct {
		Room string
	}

	RelayServerSelected struct {
		Server string
	}

	HardReset struct{}
)

func (ChannelCreated) isAction()      {}
func (ChannelEvent) isAction()        {}
func (ChannelClosed) isAction()       {}
func (RelayServerSelected) isAction() {}
func (HardReset) isAction()           {}

func NewChannelState() ChannelState {
	return ChannelState{
		ActiveChannels:   make(map[string]string),
		InactiveChannels: make(map[string]struct{}),
	}
}

func (s ChannelState) Clone() ChannelState {
	out := ChannelState{
		ActiveChannels:   make(map[string]string, len(s.ActiveChannels)),
		InactiveChannels: make(map[string]struct{}, len(s.InactiveChannels)),
		RelayServer:      s.RelayServer,
	}
	for k, v := range s.ActiveChannels {
		out.ActiveChannels[k] = v
	}
	for k := range s.InactiveChannels {
		out.InactiveChannels[k] = struct{}{}
	}
	return out
}

func (s ChannelState) IsInactive(room string) bool {
	_, ok := s.InactiveChannels[room]
	return ok
}

// ReduceChannel is the Reducer for ChannelState.
func ReduceChannel(s ChannelState, a Action) ChannelState {
	next := s.Clone()
	switch a := a.(type) {
	case ChannelCreated:
		if prev, ok := next.ActiveChannels[a.Peer]; ok && prev != a.Room {
			next.InactiveChannels[prev] = struct{}{}
		}
		next.ActiveChannels[a.Peer] = a.Room
		delete(next.InactiveChannels, a.Room)
	case ChannelEvent:
		if next.IsInactive(a.Room) {
			break
		}
		next.ActiveChannels[a.Peer] = a.Room
	case ChannelClosed:
		for peer, room := range next.ActiveChannels {
			if room == a.Room {
				delete(next.ActiveChannels, peer)
			}
		}
		next.InactiveChannels[a.Room] = struct{}{}
	case RelayServerSelected:
		next.RelayServer = a.Server
	case HardReset:
		next = NewChannelState()
	}
	return next
}

// PersistChannels saves channel bookkeeping through st.
func PersistChannels(st storage.Storage) Persister[ChannelState] {
	return func(ctx context.Context, next ChannelState, a Action) error {
		switch a.(type) {
		case RelayServerSelected:
			return storage.SetJSON(ctx, st, storage.KeyRelayServer, next.RelayServer)
		case HardReset:
			if err := st.Delete(ctx, storage.KeyRelayServer); err != nil {
				return err
			}
			return st.Delete(ctx, storage.KeyChannels)
		}
		return storage.SetJSON(ctx, st, storage.KeyChannels, next)
	}
}

// LoadChannelState restores what PersistChannels saved.
func LoadChannelState(ctx context.Context, st storage.Storage) (ChannelState, error) {
	s := NewChannelState()
	if _, err := storage.GetJSON(ctx, st, storage.KeyChannels, &s); err != nil {
		return s, err
	}
	if s.ActiveChannels == nil {
		s.ActiveChannels = make(map[string]string)
	}
	if s.InactiveChannels == nil {
		s.InactiveChannels = make(map[string]struct{})
	}
	if _, err := storage.GetJSON(ctx, st, storage.KeyRelayServer, &s.RelayServer); err != nil {
		return s, err
	}
	return s, nil
}

func NewChannelStore(ctx context.Context, st storage.Storage) (*Store[ChannelState], error) {
	initial, err := LoadChannelState(ctx, st)
	if err != nil {
		return nil, err
	}
	return New(initial, ReduceChannel, ChannelState.Clone, PersistChannels(st)), nil
}
