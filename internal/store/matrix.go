package store

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/service/storage"
	"context"
	"time"
)

type (
	// SyncState is the poll cursor of one relay node.
	SyncState struct {
		UserID         string
		AccessToken    string
		SyncToken      string
		PollingTimeout time.Duration
		IsPolling      bool
		PollingRetries int
		TxnNo          int64
		Rooms          map[string]model.Room
	}

	MatrixState struct {
		Nodes map[string]SyncState
	}

	LoggedIn struct {
		Node        string
		UserID      string
		AccessToken string
	}

	PollStarted struct {
		Node string
	}

	// SyncSucceeded replaces the sync token and clears the retry counter.
	// PollingTimeout is the long-poll timeout for the next request.
	SyncSucceeded struct {
		Node           string
		SyncToken      string
		PollingTimeout time.Duration
	}

	SyncFailed struct {
		Node string
	}

	RoomsMerged struct {
		Node  string
		Rooms []model.Room
	}

	TxnAllocated struct {
		Node string
	}

	NodeStopped struct {
		Node string
	}

	// Reset drops the sync state of every node.
	Reset struct{}
)

func (LoggedIn) isAction()      {}
func (PollStarted) isAction()   {}
func (SyncSucceeded) isAction() {}
func (SyncFailed) isAction()    {}
func (RoomsMerged) isAction()   {}
func (TxnAllocated) isAction()  {}
func (NodeStopped) isAction()   {}
func (Reset) isAction()         {}

func NewMatrixState() MatrixState {
	return MatrixState{Nodes: make(map[string]SyncState)}
}

func (s SyncState) Clone() SyncState {
	out := s
	out.Rooms = make(map[string]model.Room, len(s.Rooms))
	for id, r := range s.Rooms {
		out.Rooms[id] = r.Clone()
	}
	return out
}

func (s MatrixState) Clone() MatrixState {
	out := MatrixState{Nodes: make(map[string]SyncState, len(s.Nodes))}
	for n, st := range s.Nodes {
		out.Nodes[n] = st.Clone()
	}
	return out
}

// Node returns the sync state of node, empty when unknown.
func (s MatrixState) Node(node string) SyncState {
	st, ok := s.Nodes[node]
	if !ok {
		return SyncState{Rooms: map[string]model.Room{}}
	}
	return st
}

func ReduceMatrix(s MatrixState, a Action) MatrixState {
	next := s.Clone()
	update := func(node string, f func(*SyncState)) {
		st := next.Node(node)
		f(&st)
		next.Nodes[node] = st
	}

	switch a := a.(type) {
	case LoggedIn:
		update(a.Node, func(st *SyncState) {
			st.UserID = a.UserID
			st.AccessToken = a.AccessToken
			st.TxnNo = 0
		})
	case PollStarted:
		update(a.Node, func(st *SyncState) { st.IsPolling = true })
	case SyncSucceeded:
		update(a.Node, func(st *SyncState) {
			st.SyncToken = a.SyncToken
			st.PollingTimeout = a.PollingTimeout
			st.PollingRetries = 0
			st.IsPolling = true
		})
	case SyncFailed:
		update(a.Node, func(st *SyncState) {
			st.PollingRetries++
			st.IsPolling = false
		})
	case RoomsMerged:
		update(a.Node, func(st *SyncState) {
			for _, r := range a.Rooms {
				if old, ok := st.Rooms[r.ID]; ok {
					st.Rooms[r.ID] = old.Merge(r)
				} else {
					st.Rooms[r.ID] = r.Clone()
				}
			}
		})
	case TxnAllocated:
		update(a.Node, func(st *SyncState) { st.TxnNo++ })
	case NodeStopped:
		update(a.Node, func(st *SyncState) {
			st.IsPolling = false
			st.AccessToken = ""
		})
	case Restored:
		next.Nodes[a.Node] = a.State.Clone()
	case Reset:
		next = NewMatrixState()
	}
	return next
}

// PersistMatrix saves the sync token and rooms of each node.
func PersistMatrix(st storage.Storage) Persister[MatrixState] {
	return func(ctx context.Context, next MatrixState, a Action) error {
		switch a := a.(type) {
		case SyncSucceeded:
			return storage.SetJSON(ctx, st, storage.KeySyncToken.For(a.Node), next.Node(a.Node).SyncToken)
		case RoomsMerged:
			rooms := make([]model.Room, 0, len(next.Node(a.Node).Rooms))
			for _, r := range next.Node(a.Node).Rooms {
				rooms = append(rooms, r)
			}
			return storage.SetJSON(ctx, st, storage.KeyRooms.For(a.Node), rooms)
		}
		return nil
	}
}

// LoadNode restores the persisted cursor and rooms of node into a fresh
// SyncState.
func LoadNode(ctx context.Context, st storage.Storage, node string) (SyncState, error) {
	s := SyncState{Rooms: make(map[string]model.Room)}
	if _, err := storage.GetJSON(ctx, st, storage.KeySyncToken.For(node), &s.SyncToken); err != nil {
		return s, err
	}
	var rooms []model.Room
	if _, err := storage.GetJSON(ctx, st, storage.KeyRooms.For(node), &rooms); err != nil {
		return s, err
	}
	for _, r := range rooms {
		s.Rooms[r.ID] = r
	}
	return s, nil
}

// Restored seeds node with state loaded from storage.
type Restored struct {
	Node  string
	State SyncState
}

func (Restored) isAction() {}

// NewMatrixStore starts empty; nodes are restored when they are started.
func NewMatrixStore(st storage.Storage) *Store[MatrixState] {
	var persist Persister[MatrixState]
	if st != nil {
		persist = PersistMatrix(st)
	}
	return New(NewMatrixState(), ReduceMatrix, MatrixState.Clone, persist)
}
