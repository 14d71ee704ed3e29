// Package p2p is the relay transport seen from a peer: it turns relay room
// events into decrypted payloads from paired peers, opens channels during
// pairing and keeps one active room per peer.
package p2p

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/matrix"
	"beacon_p2p/internal/protocol/security"
	"beacon_p2p/internal/service/storage"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/store"
	"beacon_p2p/internal/utils/log"
	"beacon_p2p/internal/utils/registry"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Arceliar/phony"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const Kind = config.TransportP2P

type (
	// Client implements transport.Transport over relay rooms.
	Client struct {
		phony.Inbox
		local    model.Peer
		version  string
		security *security.Security
		engine   *matrix.Engine
		matrix   *store.Store[store.MatrixState]
		channels *store.Store[store.ChannelState]
		storage  storage.Storage
		selector *matrix.NodeSelector
		now      func() time.Time

		// bounds joining an invited room, retries included
		joinTimeout time.Duration

		// owned by the actor
		listeners   map[string]model.Peer
		unsubscribe func()

		subs    registry.Registry[transport.Inbound]
		pairing registry.Registry[model.PairingMessage]
		rooms   singleflight.Group
	}

	Options struct {
		Config   *config.Config
		Security *security.Security
		Engine   *matrix.Engine
		Matrix   *store.Store[store.MatrixState]
		Channels *store.Store[store.ChannelState]
		Storage  storage.Storage
		HTTP     *http.Client
	}
)

var _ transport.Transport = (*Client)(nil)

func New(o Options) *Client {
	httpClient := o.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		local: model.Peer{
			ID:        uuid.NewString(),
			Name:      o.Config.AppName,
			PublicKey: o.Security.PublicKeyHex(),
			Icon:      o.Config.Icon,
			AppURL:    o.Config.AppURL,
			Version:   o.Config.Protocol.Version,
		},
		version:     o.Config.Protocol.Version,
		security:    o.Security,
		engine:      o.Engine,
		matrix:      o.Matrix,
		channels:    o.Channels,
		storage:     o.Storage,
		selector:    matrix.NewNodeSelector(o.Security.KeyPair().PublicKey, o.Config.Relay, httpClient),
		now:         time.Now,
		joinTimeout: joinTimeout(o.Config.Relay),
		listeners:   make(map[string]model.Peer),
	}
}

func (c *Client) Kind() string { return Kind }

// RelayServer is the node this installation is logged into, empty before
// Connect.
func (c *Client) RelayServer() string {
	return c.channels.State().RelayServer
}

// Connect picks a relay node, logs in and starts polling. A rejected login
// resets channel state and tries one freshly selected node.
func (c *Client) Connect(ctx context.Context) error {
	phony.Block(c, func() {
		if c.unsubscribe == nil {
			c.unsubscribe = c.engine.Subscribe(c.onEvent)
		}
	})

	err := c.start(ctx)
	if errors.Is(err, model.ErrAuthentication) {
		log.Warn("relay login rejected, resetting", zap.Error(err))
		if _, rerr := c.channels.Dispatch(ctx, store.HardReset{}); rerr != nil {
			log.Warn("hard reset persist failed", zap.Error(rerr))
		}
		c.matrix.Dispatch(ctx, store.Reset{})
		c.selector.Forget()
		err = c.start(ctx)
	}
	return err
}

func (c *Client) start(ctx context.Context) error {
	node := c.channels.State().RelayServer
	if node == "" {
		resolved, err := c.selector.Resolve(ctx)
		if err != nil {
			return err
		}
		node = resolved
		if _, err := c.channels.Dispatch(ctx, store.RelayServerSelected{Server: node}); err != nil {
			log.Warn("persist relay server failed", zap.Error(err))
		}
	}

	if c.storage != nil {
		restored, err := store.LoadNode(ctx, c.storage, node)
		if err != nil {
			log.Warn("restore sync state failed", zap.String("node", node), zap.Error(err))
		} else if restored.SyncToken != "" {
			c.matrix.Dispatch(ctx, store.Restored{Node: node, State: restored})
		}
	}

	creds := security.LoginCredential(c.security.KeyPair(), c.now())
	return c.engine.Start(ctx, node, creds)
}

func (c *Client) Disconnect(context.Context) error {
	node := c.RelayServer()
	if node != "" {
		c.engine.Stop(node)
	}
	phony.Block(c, func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
			c.unsubscribe = nil
		}
	})
	return nil
}

func (c *Client) Pause(context.Context) error {
	c.engine.Pause(c.RelayServer())
	return nil
}

func (c *Client) Resume(context.Context) error {
	c.engine.Resume(c.RelayServer())
	return nil
}

// Listen accepts encrypted traffic from peer. Listening twice for the same
// key replaces the peer record.
func (c *Client) Listen(peer model.Peer) {
	phony.Block(c, func() {
		c.listeners[peer.PublicKey] = peer
	})
}

func (c *Client) Unlisten(publicKey string) {
	phony.Block(c, func() {
		delete(c.listeners, publicKey)
	})
}

func (c *Client) Subscribe(h func(transport.Inbound)) func() {
	return c.subs.Add(h)
}

func (c *Client) listening() []model.Peer {
	var out []model.Peer
	phony.Block(c, func() {
		out = make([]model.Peer, 0, len(c.listeners))
		for _, p := range c.listeners {
			out = append(out, p)
		}
	})
	return out
}

// PairingRequest describes this installation to a wallet.
func (c *Client) PairingRequest(ctx context.Context) (model.PairingRequest, error) {
	node := c.RelayServer()
	if node == "" {
		return model.PairingRequest{}, errors.New("p2p: not connected")
	}
	return model.PairingRequest{
		ID:          uuid.NewString(),
		Type:        model.PairingRequestType,
		Name:        c.local.Name,
		Version:     c.version,
		PublicKey:   c.local.PublicKey,
		RelayServer: node,
		Icon:        c.local.Icon,
		AppURL:      c.local.AppURL,
	}, nil
}

// Pair delivers channel-open messages addressed to us until unsubscribed.
func (c *Client) Pair(_ context.Context, onMessage func(model.PairingMessage)) (func(), error) {
	return c.pairing.Add(onMessage), nil
}

// PairWith opens a channel to the dApp that produced request by sending it
// our sealed pairing response.
func (c *Client) PairWith(ctx context.Context, request model.PairingRequest) error {
	node := c.RelayServer()
	if node == "" {
		return errors.New("p2p: not connected")
	}
	raw, err := security.HexKey(request.PublicKey)
	if err != nil {
		return err
	}
	version := request.Version
	if version == "" {
		version = "1"
	}

	local := c.local
	local.ID = request.ID
	payload, err := security.BuildPairingPayload(local, node, version)
	if err != nil {
		return err
	}
	sealed, err := c.security.Seal(request.PublicKey, payload)
	if err != nil {
		return err
	}

	recipient := security.RecipientID(raw, request.RelayServer)
	room, err := c.relevantRoom(ctx, node, recipient)
	if err != nil {
		return err
	}
	log.Info("opening channel", zap.String("recipient", recipient), zap.String("room", room))
	return c.sendWithRecovery(ctx, node, recipient, room, security.ChannelOpenMessage(recipient, sealed))
}

// Send encrypts payload for peer and posts it to their active room.
func (c *Client) Send(ctx context.Context, peer model.Peer, payload string) error {
	node := c.RelayServer()
	if node == "" {
		return errors.New("p2p: not connected")
	}
	raw, err := security.HexKey(peer.PublicKey)
	if err != nil {
		return err
	}
	body, err := c.security.EncryptFor(peer.PublicKey, []byte(payload))
	if err != nil {
		return err
	}
	recipient := security.RecipientID(raw, peer.RelayServer)
	room, err := c.relevantRoom(ctx, node, recipient)
	if err != nil {
		return err
	}
	return c.sendWithRecovery(ctx, node, recipient, room, body)
}

// sendWithRecovery posts body to room. A 403 means the peer left the room:
// it is closed, a new one is created and the body is sent once more.
func (c *Client) sendWithRecovery(ctx context.Context, node, recipient, room, body string) error {
	err := c.engine.SendTextMessage(ctx, node, room, body)
	if err == nil || !model.IsForbidden(err) {
		return err
	}
	log.Warn("room rejected message, replacing it", zap.String("room", room), zap.Error(err))
	if _, derr := c.channels.Dispatch(ctx, store.ChannelClosed{Room: room}); derr != nil {
		log.Warn("persist channel close failed", zap.Error(derr))
	}
	room, err = c.relevantRoom(ctx, node, recipient)
	if err != nil {
		return err
	}
	return c.engine.SendTextMessage(ctx, node, room, body)
}

// relevantRoom returns the active room for recipient, adopting a joined
// room they are a member of or creating one. Concurrent callers for the
// same recipient share one creation.
func (c *Client) relevantRoom(ctx context.Context, node, recipient string) (string, error) {
	if room, ok := c.channels.State().ActiveChannels[recipient]; ok {
		return room, nil
	}
	v, err, _ := c.rooms.Do(recipient, func() (any, error) {
		st := c.channels.State()
		if room, ok := st.ActiveChannels[recipient]; ok {
			return room, nil
		}
		for _, r := range c.engine.Rooms(node) {
			if r.Status == model.RoomStatusJoined && r.HasMember(recipient) && !st.IsInactive(r.ID) {
				if _, err := c.channels.Dispatch(ctx, store.ChannelCreated{Peer: recipient, Room: r.ID}); err != nil {
					log.Warn("persist channel failed", zap.Error(err))
				}
				return r.ID, nil
			}
		}
		room, err := c.engine.CreateTrustedPrivateRoom(ctx, node, recipient)
		if err != nil {
			return "", err
		}
		if _, err := c.channels.Dispatch(ctx, store.ChannelCreated{Peer: recipient, Room: room}); err != nil {
			log.Warn("persist channel failed", zap.Error(err))
		}
		return room, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
