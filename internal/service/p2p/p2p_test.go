package p2p

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/matrix"
	"beacon_p2p/internal/protocol/security"
	"beacon_p2p/internal/service/server"
	"beacon_p2p/internal/service/storage"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/store"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*server.HttpServer, string) {
	s := server.NewHttpServer(config.ServerConfig{}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, strings.TrimPrefix(srv.URL, "http://")
}

func testConfig(name, node string) *config.Config {
	cfg := config.Default()
	cfg.AppName = name
	cfg.Relay.Nodes = []string{node}
	cfg.Relay.Scheme = "http"
	cfg.Relay.PollingTimeout = 200 * time.Millisecond
	cfg.Relay.SyncRetryInterval = 10 * time.Millisecond
	cfg.Relay.JoinRetryDelay = 20 * time.Millisecond
	return cfg
}

// buildClient wires a client over mem without connecting it.
func buildClient(t *testing.T, cfg *config.Config, mem *storage.Memory) *Client {
	kp, err := security.GenerateKeyPair()
	require.NoError(t, err)
	sec, err := security.New(kp)
	require.NoError(t, err)

	ms := store.NewMatrixStore(mem)
	cs, err := store.NewChannelStore(context.Background(), mem)
	require.NoError(t, err)

	c := New(Options{
		Config:   cfg,
		Security: sec,
		Engine:   matrix.NewEngine(cfg.Relay, ms),
		Matrix:   ms,
		Channels: cs,
		Storage:  mem,
	})
	t.Cleanup(func() { c.Disconnect(context.Background()) })
	return c
}

func newClient(t *testing.T, name, node string) *Client {
	c := buildClient(t, testConfig(name, node), storage.NewMemory())
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func (c *Client) peer() model.Peer {
	return model.Peer{PublicKey: c.local.PublicKey, RelayServer: c.RelayServer(), Name: c.local.Name}
}

func (c *Client) userID() string {
	return c.engine.UserID(c.RelayServer())
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

// pair runs the pairing handshake and returns the response the dApp saw.
func pair(t *testing.T, dapp, wallet *Client) *model.PairingResponse {
	ctx := context.Background()
	got := make(chan model.PairingMessage, 1)
	unsubscribe, err := dapp.Pair(ctx, func(m model.PairingMessage) { got <- m })
	require.NoError(t, err)
	defer unsubscribe()

	req, err := dapp.PairingRequest(ctx)
	require.NoError(t, err)
	require.NoError(t, wallet.PairWith(ctx, req))

	resp, ok := recv(t, got).(*model.PairingResponse)
	require.True(t, ok)
	assert.Equal(t, req.ID, resp.ID)
	return resp
}

func TestPairingRequestDescribesInstallation(t *testing.T) {
	_, node := startRelay(t)
	dapp := newClient(t, "dapp", node)

	req, err := dapp.PairingRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PairingRequestType, req.Type)
	assert.Equal(t, node, req.RelayServer)
	assert.Equal(t, dapp.local.PublicKey, req.PublicKey)
	assert.Equal(t, "dapp", req.Name)
	assert.NotEmpty(t, req.ID)
}

func TestPairAndExchange(t *testing.T) {
	ctx := context.Background()
	_, node := startRelay(t)
	dapp := newClient(t, "dapp", node)
	wallet := newClient(t, "wallet", node)

	resp := pair(t, dapp, wallet)
	assert.Equal(t, wallet.local.PublicKey, resp.PublicKey)
	assert.Equal(t, node, resp.RelayServer)
	assert.Equal(t, "wallet", resp.Name)

	dapp.Listen(resp.Peer())
	wallet.Listen(dapp.peer())

	toWallet := make(chan transport.Inbound, 1)
	defer wallet.Subscribe(func(in transport.Inbound) { toWallet <- in })()
	toDapp := make(chan transport.Inbound, 1)
	defer dapp.Subscribe(func(in transport.Inbound) { toDapp <- in })()

	require.NoError(t, dapp.Send(ctx, resp.Peer(), "ping"))
	in := recv(t, toWallet)
	assert.Equal(t, "ping", in.Payload)
	assert.Equal(t, dapp.local.PublicKey, in.PublicKey)
	assert.Equal(t, Kind, in.Kind)

	require.NoError(t, wallet.Send(ctx, dapp.peer(), "pong"))
	assert.Equal(t, "pong", recv(t, toDapp).Payload)

	// both sides talk through the room the wallet opened
	walletRoom := wallet.channels.State().ActiveChannels[dapp.userID()]
	assert.NotEmpty(t, walletRoom)
	assert.Equal(t, walletRoom, dapp.channels.State().ActiveChannels[wallet.userID()])
}

func TestSendFromUnknownPeerIgnored(t *testing.T) {
	ctx := context.Background()
	_, node := startRelay(t)
	dapp := newClient(t, "dapp", node)
	wallet := newClient(t, "wallet", node)

	pair(t, dapp, wallet)
	// the dApp never listens to the wallet
	got := make(chan transport.Inbound, 1)
	defer dapp.Subscribe(func(in transport.Inbound) { got <- in })()

	require.NoError(t, wallet.Send(ctx, dapp.peer(), "hello"))
	select {
	case in := <-got:
		t.Fatalf("unexpected delivery %+v", in)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestSendRecoversFromLeftRoom(t *testing.T) {
	ctx := context.Background()
	relay, node := startRelay(t)
	dapp := newClient(t, "dapp", node)
	wallet := newClient(t, "wallet", node)

	resp := pair(t, dapp, wallet)
	dapp.Listen(resp.Peer())
	wallet.Listen(dapp.peer())

	got := make(chan transport.Inbound, 1)
	defer dapp.Subscribe(func(in transport.Inbound) { got <- in })()

	old := wallet.channels.State().ActiveChannels[dapp.userID()]
	require.NotEmpty(t, old)
	relay.Leave(old, wallet.userID())

	require.NoError(t, wallet.Send(ctx, dapp.peer(), "again"))
	assert.Equal(t, "again", recv(t, got).Payload)

	st := wallet.channels.State()
	assert.NotEqual(t, old, st.ActiveChannels[dapp.userID()])
	assert.True(t, st.IsInactive(old))
}

func TestNotConnected(t *testing.T) {
	_, node := startRelay(t)
	c := newClient(t, "dapp", node)
	require.NoError(t, c.Disconnect(context.Background()))

	c.channels.Dispatch(context.Background(), store.HardReset{})
	_, err := c.PairingRequest(context.Background())
	assert.Error(t, err)
}

func TestRejectedLoginResetsAndRediscovers(t *testing.T) {
	ctx := context.Background()
	_, live := startRelay(t)
	stale := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(matrix.ErrorResponse{ErrCode: "M_FORBIDDEN", Error: "unknown user"})
	}))
	t.Cleanup(stale.Close)
	staleNode := strings.TrimPrefix(stale.URL, "http://")

	mem := storage.NewMemory()
	c := buildClient(t, testConfig("dapp", live), mem)
	_, err := c.channels.Dispatch(ctx, store.RelayServerSelected{Server: staleNode})
	require.NoError(t, err)
	_, err = c.channels.Dispatch(ctx, store.ChannelCreated{Peer: "@peer:" + staleNode, Room: "!old:" + staleNode})
	require.NoError(t, err)

	require.NoError(t, c.Connect(ctx))

	st := c.channels.State()
	assert.Equal(t, live, st.RelayServer)
	assert.Empty(t, st.ActiveChannels)
	assert.True(t, c.engine.Running(live))
	assert.False(t, c.engine.Running(staleNode))

	var stored string
	found, err := storage.GetJSON(ctx, mem, storage.KeyRelayServer, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, live, stored)
}

func TestJoinTimeoutCoversRetries(t *testing.T) {
	cfg := config.RelayConfig{RequestTimeout: time.Second, JoinRetries: 3, JoinRetryDelay: 100 * time.Millisecond}
	assert.Equal(t, 3300*time.Millisecond, joinTimeout(cfg))

	cfg.RequestTimeout = 0
	assert.Zero(t, joinTimeout(cfg))
}
