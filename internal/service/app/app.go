// Package app is the root context: it owns the installation key pair, the
// stores and every controller, and exposes the dApp and wallet operations.
package app

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/matrix"
	"beacon_p2p/internal/protocol/security"
	"beacon_p2p/internal/repository/permission"
	"beacon_p2p/internal/service/connection"
	"beacon_p2p/internal/service/message"
	"beacon_p2p/internal/service/p2p"
	"beacon_p2p/internal/service/storage"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/service/websocket"
	"beacon_p2p/internal/store"
	"beacon_p2p/internal/utils/log"
	"beacon_p2p/internal/utils/registry"
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type (
	App struct {
		cfg         *config.Config
		storage     storage.Storage
		permissions permission.Repository

		security *security.Security
		senderID string
		matrix   *store.Store[store.MatrixState]
		channels *store.Store[store.ChannelState]
		engine   *matrix.Engine

		conn     *connection.Controller
		messages *message.Controller
		peers    *peerSet

		requests registry.Registry[model.Request]
		paired   registry.Registry[model.Peer]
		unsub    func()
	}

	Options struct {
		Config  *config.Config
		Storage storage.Storage
		Secure  storage.SecureStorage
		// Permissions defaults to a store on Storage.
		Permissions permission.Repository
		HTTP        *http.Client
	}
)

func New(ctx context.Context, o Options) (*App, error) {
	if o.Config == nil || o.Storage == nil || o.Secure == nil {
		return nil, errors.New("app: config, storage and secure storage are required")
	}
	seed, err := storage.LoadOrCreateSeed(ctx, o.Secure)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	kp, err := security.KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	sec, err := security.New(kp)
	if err != nil {
		return nil, err
	}

	channels, err := store.NewChannelStore(ctx, o.Storage)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	ms := store.NewMatrixStore(o.Storage)
	var engineOpts []matrix.Option
	if o.HTTP != nil {
		engineOpts = append(engineOpts, matrix.WithHTTPClient(o.HTTP))
	}
	engine := matrix.NewEngine(o.Config.Relay, ms, engineOpts...)

	var transports []transport.Transport
	for _, kind := range o.Config.Transports {
		switch kind {
		case config.TransportP2P:
			transports = append(transports, p2p.New(p2p.Options{
				Config:   o.Config,
				Security: sec,
				Engine:   engine,
				Matrix:   ms,
				Channels: channels,
				Storage:  o.Storage,
				HTTP:     o.HTTP,
			}))
		case config.TransportWebSocket:
			transports = append(transports, websocket.New(websocket.Options{
				Config:   o.Config,
				Security: sec,
				HTTP:     o.HTTP,
			}))
		default:
			return nil, fmt.Errorf("app: unknown transport %q", kind)
		}
	}

	perms := o.Permissions
	if perms == nil {
		perms = permission.NewStore(o.Storage)
	}
	peers, err := loadPeers(ctx, o.Storage)
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}

	a := &App{
		cfg:         o.Config,
		storage:     o.Storage,
		permissions: perms,
		security:    sec,
		senderID:    security.SenderID(kp.PublicKey),
		matrix:      ms,
		channels:    channels,
		engine:      engine,
		conn:        connection.New(transports...),
		messages:    message.New(o.Config.Protocol.Version, perms),
		peers:       peers,
	}
	a.unsub = a.conn.Subscribe(a.onIncoming)
	return a, nil
}

func (a *App) SenderID() string { return a.senderID }

func (a *App) PublicKey() string { return a.security.PublicKeyHex() }

// AppMetadata describes this installation in permission requests.
func (a *App) AppMetadata() model.AppMetadata {
	return model.AppMetadata{SenderID: a.senderID, Name: a.cfg.AppName, Icon: a.cfg.Icon}
}

func (a *App) Permissions() permission.Repository { return a.permissions }

// Start connects every transport and listens to the stored peers.
func (a *App) Start(ctx context.Context) error {
	err := a.conn.Connect(ctx)
	for _, p := range a.peers.list() {
		a.conn.AddPeer(p)
	}
	if err != nil {
		return err
	}
	log.Info("beacon started",
		zap.String("sender_id", a.senderID),
		zap.String("relay", a.channels.State().RelayServer),
		zap.Int("peers", len(a.peers.list())))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	return a.conn.Disconnect(ctx)
}

func (a *App) Pause(ctx context.Context) error { return a.conn.Pause(ctx) }

func (a *App) Resume(ctx context.Context) error { return a.conn.Resume(ctx) }

// Close stops and detaches the controllers. The App cannot be restarted.
func (a *App) Close(ctx context.Context) error {
	err := a.Stop(ctx)
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
	a.conn.Close()
	return err
}

// PairingRequest is the dApp side of pairing: it returns the request to
// show to a wallet and adds the wallet as a peer once it answers.
func (a *App) PairingRequest(ctx context.Context) (model.PairingRequest, error) {
	stop, err := a.conn.Pair(ctx, p2p.Kind, func(m model.PairingMessage) {
		resp, ok := m.(*model.PairingResponse)
		if !ok {
			return
		}
		if err := a.addPeer(context.Background(), resp.Peer()); err != nil {
			log.Error("store paired wallet failed", zap.Error(err))
		}
	})
	if err != nil {
		return model.PairingRequest{}, err
	}
	req, err := a.conn.PairingRequest(ctx, p2p.Kind)
	if err != nil {
		stop()
		return model.PairingRequest{}, err
	}
	return req, nil
}

// PairWith is the wallet side of pairing.
func (a *App) PairWith(ctx context.Context, request model.PairingRequest) error {
	if request.Version == "" {
		request.Version = "1"
	}
	if err := a.conn.PairWith(ctx, p2p.Kind, request); err != nil {
		return err
	}
	return a.addPeer(ctx, request.Peer())
}

// OnPaired calls h for every newly paired peer.
func (a *App) OnPaired(h func(model.Peer)) func() { return a.paired.Add(h) }

// OnRequest calls h for every request received from a peer. The request
// is pending until answered with Respond.
func (a *App) OnRequest(h func(model.Request)) func() { return a.requests.Add(h) }

func (a *App) Peers() []model.Peer { return a.peers.list() }

func (a *App) Peer(publicKey string) (model.Peer, bool) { return a.peers.get(publicKey) }

// RemovePeer tells the peer we are leaving and forgets it.
func (a *App) RemovePeer(ctx context.Context, publicKey string) error {
	peer, ok := a.peers.get(publicKey)
	if !ok {
		return model.ErrNotFound
	}
	_, wm, err := a.messages.OnOutgoing(ctx, &model.Disconnect{Header: model.Header{Version: peer.Version}}, a.senderID, true)
	if err == nil {
		if err := a.conn.Send(ctx, peer, wm); err != nil {
			log.Warn("disconnect notice failed", zap.String("peer", publicKey), zap.Error(err))
		}
	}
	a.conn.RemovePeer(publicKey)
	return a.peers.remove(ctx, a.storage, publicKey)
}

// Request sends req to peer and waits for its terminal response. An
// *model.ErrorResponse from the wallet is returned as the response.
func (a *App) Request(ctx context.Context, peer model.Peer, req model.Request) (model.Response, error) {
	h := req.MessageHeader()
	if h.Version == "" {
		h.Version = peer.Version
	}
	_, wm, err := a.messages.OnOutgoing(ctx, req, a.senderID, true)
	if err != nil {
		return nil, err
	}
	if err := a.conn.Send(ctx, peer, wm); err != nil {
		a.messages.Forget(h.ID)
		return nil, err
	}
	log.Debug("request sent", zap.String("id", h.ID), zap.String("type", string(req.Type())))
	return a.messages.Await(ctx, h.ID)
}

// Respond answers a pending request. An acknowledge keeps the request
// pending; anything else concludes it once sent. A failed send leaves the
// request pending so it can be answered again.
func (a *App) Respond(ctx context.Context, resp model.Response) error {
	id := resp.MessageHeader().ID
	origin, wm, err := a.messages.OnOutgoing(ctx, resp, a.senderID, false)
	if err != nil {
		return err
	}
	peer, ok := a.peers.get(origin.PublicKey)
	if !ok {
		return fmt.Errorf("respond %s: %w", id, model.ErrNotFound)
	}
	if err := a.conn.Send(ctx, peer, wm); err != nil {
		return err
	}
	if model.IsTerminal(resp) {
		a.messages.Complete(id)
	}
	return nil
}

func (a *App) onIncoming(in connection.Incoming) {
	ctx := context.Background()
	msg, err := a.messages.OnIncoming(ctx, in.Message, in.Origin)
	if err != nil {
		log.Warn("dropping incoming message", zap.String("peer", in.Origin.PublicKey), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case *model.PermissionRequest:
		if err := a.rememberApp(ctx, m.AppMetadata); err != nil {
			log.Warn("store app metadata failed", zap.Error(err))
		}
		a.requests.Emit(m)
	case model.Request:
		a.requests.Emit(m)
	case *model.Disconnect:
		log.Info("peer disconnected", zap.String("peer", in.Origin.PublicKey))
		a.conn.RemovePeer(in.Origin.PublicKey)
		if err := a.peers.remove(ctx, a.storage, in.Origin.PublicKey); err != nil && !errors.Is(err, model.ErrNotFound) {
			log.Warn("forget peer failed", zap.Error(err))
		}
	}
}

func (a *App) addPeer(ctx context.Context, peer model.Peer) error {
	if err := a.peers.add(ctx, a.storage, peer); err != nil {
		return err
	}
	a.conn.AddPeer(peer)
	log.Info("paired", zap.String("peer", peer.Name), zap.String("public_key", peer.PublicKey))
	a.paired.Emit(peer)
	return nil
}
