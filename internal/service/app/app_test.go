package app

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/security"
	"beacon_p2p/internal/service/server"
	"beacon_p2p/internal/service/storage"
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) string {
	srv := httptest.NewServer(server.NewHttpServer(config.ServerConfig{}, nil).Handler())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
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

func startApp(t *testing.T, name, node string) *App {
	ctx := context.Background()
	mem := storage.NewMemory()
	a, err := New(ctx, Options{Config: testConfig(name, node), Storage: mem, Secure: mem})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func activeRoom(t *testing.T, a *App, peer model.Peer) string {
	raw, err := security.HexKey(peer.PublicKey)
	require.NoError(t, err)
	return a.channels.State().ActiveChannels[security.RecipientID(raw, peer.RelayServer)]
}

func pair(t *testing.T, dapp, wallet *App) (walletPeer, dappPeer model.Peer) {
	ctx := context.Background()
	paired := make(chan model.Peer, 1)
	defer dapp.OnPaired(func(p model.Peer) { paired <- p })()

	req, err := dapp.PairingRequest(ctx)
	require.NoError(t, err)
	require.NoError(t, wallet.PairWith(ctx, req))

	walletPeer = recv(t, paired)
	dappPeer, ok := wallet.Peer(dapp.PublicKey())
	require.True(t, ok)
	return walletPeer, dappPeer
}

func TestPermissionRequestEndToEnd(t *testing.T) {
	ctx := context.Background()
	node := startRelay(t)
	dapp := startApp(t, "dapp", node)
	wallet := startApp(t, "wallet", node)

	walletPeer, dappPeer := pair(t, dapp, wallet)
	assert.Equal(t, wallet.PublicKey(), walletPeer.PublicKey)
	assert.Equal(t, "wallet", walletPeer.Name)
	assert.Equal(t, "dapp", dappPeer.Name)

	requests := make(chan model.Request, 1)
	defer wallet.OnRequest(func(r model.Request) { requests <- r })()

	type result struct {
		resp model.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := dapp.Request(ctx, walletPeer, &model.PermissionRequest{
			Header:      model.Header{ID: "r1"},
			AppMetadata: dapp.AppMetadata(),
			Network:     "mainnet",
			Scopes:      []string{"operation_request", "sign"},
		})
		done <- result{resp, err}
	}()

	req := recv(t, requests)
	assert.Equal(t, "r1", req.MessageHeader().ID)
	assert.Equal(t, dapp.SenderID(), req.MessageHeader().SenderID)
	_, pending := wallet.messages.Pending("r1")
	require.True(t, pending)

	require.NoError(t, wallet.Respond(ctx, &model.Acknowledge{Header: model.Header{ID: "r1"}}))
	_, pending = wallet.messages.Pending("r1")
	require.True(t, pending)

	require.NoError(t, wallet.Respond(ctx, &model.PermissionResponse{
		Header:    model.Header{ID: "r1"},
		PublicKey: "edpktest",
		Address:   "tz1test",
		Scopes:    []string{"sign"},
	}))
	_, pending = wallet.messages.Pending("r1")
	assert.False(t, pending)

	res := recv(t, done)
	require.NoError(t, res.err)
	grant, ok := res.resp.(*model.PermissionResponse)
	require.True(t, ok)
	assert.Equal(t, "edpktest", grant.PublicKey)
	assert.Equal(t, wallet.SenderID(), grant.SenderID)

	perms, err := wallet.Permissions().List(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, dapp.AppMetadata(), perms[0].AppMetadata)
	assert.Equal(t, "edpktest", perms[0].PublicKey)
	assert.Equal(t, "mainnet", perms[0].Network)

	apps, err := wallet.Apps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.AppMetadata{dapp.AppMetadata()}, apps)

	room := activeRoom(t, dapp, walletPeer)
	assert.NotEmpty(t, room)
	assert.Equal(t, room, activeRoom(t, wallet, dappPeer))

	// a second terminal answer has nothing left to answer
	err = wallet.Respond(ctx, &model.PermissionResponse{Header: model.Header{ID: "r1"}, PublicKey: "edpktest"})
	assert.ErrorAs(t, err, new(*model.NoPendingRequestError))
}

func TestDisconnectForgetsPeer(t *testing.T) {
	ctx := context.Background()
	node := startRelay(t)
	dapp := startApp(t, "dapp", node)
	wallet := startApp(t, "wallet", node)

	walletPeer, _ := pair(t, dapp, wallet)
	require.NoError(t, dapp.RemovePeer(ctx, walletPeer.PublicKey))
	assert.Empty(t, dapp.Peers())

	assert.Eventually(t, func() bool { return len(wallet.Peers()) == 0 }, 10*time.Second, 50*time.Millisecond)
}

func TestRestartKeepsIdentityAndPeers(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	cfg := testConfig("wallet", "relay.invalid")

	a, err := New(ctx, Options{Config: cfg, Storage: mem, Secure: mem})
	require.NoError(t, err)
	peer := model.Peer{Name: "dapp", PublicKey: strings.Repeat("ab", 32), RelayServer: "relay.invalid", Version: "3"}
	require.NoError(t, a.peers.add(ctx, mem, peer))

	b, err := New(ctx, Options{Config: cfg, Storage: mem, Secure: mem})
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())
	assert.Equal(t, a.SenderID(), b.SenderID())
	assert.Equal(t, []model.Peer{peer}, b.Peers())
}

func TestRespondWithoutRequest(t *testing.T) {
	mem := storage.NewMemory()
	a, err := New(context.Background(), Options{Config: testConfig("wallet", "relay.invalid"), Storage: mem, Secure: mem})
	require.NoError(t, err)

	err = a.Respond(context.Background(), &model.OperationResponse{Header: model.Header{ID: "missing"}})
	var npr *model.NoPendingRequestError
	require.ErrorAs(t, err, &npr)
	assert.Equal(t, "missing", npr.ID)
}

func TestFailedRespondKeepsRequestPending(t *testing.T) {
	ctx := context.Background()
	node := startRelay(t)
	dapp := startApp(t, "dapp", node)
	wallet := startApp(t, "wallet", node)

	walletPeer, dappPeer := pair(t, dapp, wallet)
	requests := make(chan model.Request, 1)
	defer wallet.OnRequest(func(r model.Request) { requests <- r })()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan model.Response, 1)
	go func() {
		resp, _ := dapp.Request(reqCtx, walletPeer, &model.SignPayloadRequest{Header: model.Header{ID: "s1"}, Payload: "05"})
		done <- resp
	}()
	recv(t, requests)

	// the wallet lost track of the dApp, so the answer cannot leave
	require.NoError(t, wallet.peers.remove(ctx, wallet.storage, dappPeer.PublicKey))
	err := wallet.Respond(ctx, &model.SignPayloadResponse{Header: model.Header{ID: "s1"}, Signature: "sig"})
	require.ErrorIs(t, err, model.ErrNotFound)
	_, pending := wallet.messages.Pending("s1")
	require.True(t, pending)

	require.NoError(t, wallet.peers.add(ctx, wallet.storage, dappPeer))
	require.NoError(t, wallet.Respond(ctx, &model.SignPayloadResponse{Header: model.Header{ID: "s1"}, Signature: "sig"}))
	_, pending = wallet.messages.Pending("s1")
	assert.False(t, pending)

	resp := recv(t, done)
	sig, ok := resp.(*model.SignPayloadResponse)
	require.True(t, ok)
	assert.Equal(t, "sig", sig.Signature)
}

func TestFailedPairingRequestLeavesNoListener(t *testing.T) {
	ctx := context.Background()
	node := startRelay(t)
	mem := storage.NewMemory()
	dapp, err := New(ctx, Options{Config: testConfig("dapp", node), Storage: mem, Secure: mem})
	require.NoError(t, err)
	t.Cleanup(func() { dapp.Close(context.Background()) })

	// not connected yet
	_, err = dapp.PairingRequest(ctx)
	require.Error(t, err)

	require.NoError(t, dapp.Start(ctx))
	wallet := startApp(t, "wallet", node)

	var paired atomic.Int32
	defer dapp.OnPaired(func(model.Peer) { paired.Add(1) })()
	pair(t, dapp, wallet)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), paired.Load())
}
