package store

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/service/storage"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannels(t *testing.T, st storage.Storage) *Store[ChannelState] {
	t.Helper()
	s, err := NewChannelStore(context.Background(), st)
	require.NoError(t, err)
	return s
}

func TestChannelCreatedMarksPreviousRoomInactive(t *testing.T) {
	s := newChannels(t, storage.NewMemory())
	ctx := context.Background()

	_, err := s.Dispatch(ctx, ChannelCreated{Peer: "peer", Room: "!old"})
	require.NoError(t, err)
	st, err := s.Dispatch(ctx, ChannelCreated{Peer: "peer", Room: "!new"})
	require.NoError(t, err)

	assert.Equal(t, "!new", st.ActiveChannels["peer"])
	assert.True(t, st.IsInactive("!old"))
	assert.False(t, st.IsInactive("!new"))
}

func TestChannelClosedRemovesEveryMapping(t *testing.T) {
	s := newChannels(t, storage.NewMemory())
	ctx := context.Background()

	for _, p := range []string{"a", "b"} {
		_, err := s.Dispatch(ctx, ChannelCreated{Peer: p, Room: "!shared"})
		require.NoError(t, err)
	}
	_, err := s.Dispatch(ctx, ChannelCreated{Peer: "c", Room: "!other"})
	require.NoError(t, err)

	st, err := s.Dispatch(ctx, ChannelClosed{Room: "!shared"})
	require.NoError(t, err)

	for peer, room := range st.ActiveChannels {
		assert.NotEqual(t, "!shared", room, peer)
	}
	assert.True(t, st.IsInactive("!shared"))
	assert.Equal(t, "!other", st.ActiveChannels["c"])

	// traffic in a closed room does not revive it
	st, err = s.Dispatch(ctx, ChannelEvent{Peer: "a", Room: "!shared"})
	require.NoError(t, err)
	_, ok := st.ActiveChannels["a"]
	assert.False(t, ok)
}

func TestHardResetAndPersistence(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()
	s := newChannels(t, mem)

	_, err := s.Dispatch(ctx, RelayServerSelected{Server: "relay.example"})
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, ChannelCreated{Peer: "peer", Room: "!r"})
	require.NoError(t, err)

	restored, err := LoadChannelState(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, "relay.example", restored.RelayServer)
	assert.Equal(t, "!r", restored.ActiveChannels["peer"])

	st, err := s.Dispatch(ctx, HardReset{})
	require.NoError(t, err)
	assert.Empty(t, st.ActiveChannels)
	assert.Empty(t, st.RelayServer)

	restored, err = LoadChannelState(ctx, mem)
	require.NoError(t, err)
	assert.Empty(t, restored.ActiveChannels)
	assert.Empty(t, restored.RelayServer)
}

func TestStateIsACopy(t *testing.T) {
	s := newChannels(t, storage.NewMemory())
	_, err := s.Dispatch(context.Background(), ChannelCreated{Peer: "p", Room: "!r"})
	require.NoError(t, err)

	st := s.State()
	st.ActiveChannels["p"] = "!mutated"
	assert.Equal(t, "!r", s.State().ActiveChannels["p"])
}

func TestConcurrentDispatchIsSerialized(t *testing.T) {
	s := New(NewMatrixState(), ReduceMatrix, MatrixState.Clone, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Dispatch(ctx, TxnAllocated{Node: "n"})
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), s.State().Node("n").TxnNo)
}

func TestSyncStateTransitions(t *testing.T) {
	mem := storage.NewMemory()
	s := New(NewMatrixState(), ReduceMatrix, MatrixState.Clone, PersistMatrix(mem))
	ctx := context.Background()

	st, _ := s.Dispatch(ctx, PollStarted{Node: "n"})
	assert.True(t, st.Node("n").IsPolling)

	st, _ = s.Dispatch(ctx, SyncFailed{Node: "n"})
	st, _ = s.Dispatch(ctx, SyncFailed{Node: "n"})
	assert.Equal(t, 2, st.Node("n").PollingRetries)
	assert.False(t, st.Node("n").IsPolling)

	st, err := s.Dispatch(ctx, SyncSucceeded{Node: "n", SyncToken: "s42"})
	require.NoError(t, err)
	assert.Equal(t, 0, st.Node("n").PollingRetries)
	assert.Equal(t, "s42", st.Node("n").SyncToken)

	_, err = s.Dispatch(ctx, RoomsMerged{Node: "n", Rooms: []model.Room{model.NewRoom("!r", model.RoomStatusInvited, "@a:x")}})
	require.NoError(t, err)
	st, err = s.Dispatch(ctx, RoomsMerged{Node: "n", Rooms: []model.Room{model.NewRoom("!r", model.RoomStatusJoined, "@b:x")}})
	require.NoError(t, err)
	r := st.Node("n").Rooms["!r"]
	assert.Equal(t, model.RoomStatusJoined, r.Status)
	assert.True(t, r.HasMember("@a:x"))
	assert.True(t, r.HasMember("@b:x"))

	loaded, err := LoadNode(ctx, mem, "n")
	require.NoError(t, err)
	assert.Equal(t, "s42", loaded.SyncToken)
	assert.Contains(t, loaded.Rooms, "!r")

	st, _ = s.Dispatch(ctx, Reset{})
	assert.Empty(t, st.Nodes)
}
