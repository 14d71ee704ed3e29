// Package websocket is a direct transport through the relay's websocket
// hub. Frames carry the same session encryption as relay rooms; the hub
// only sees the recipient hash. It cannot be used for pairing.
package websocket

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/matrix"
	"beacon_p2p/internal/protocol/security"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/utils/log"
	"beacon_p2p/internal/utils/registry"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/Arceliar/phony"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const Kind = config.TransportWebSocket

var errNotConnected = errors.New("websocket: not connected")

type (
	Client struct {
		phony.Inbox
		security *security.Security
		selector *matrix.NodeSelector
		scheme   string
		dialer   *ws.Dialer

		// owned by the actor
		conn      *ws.Conn
		listeners map[string]model.Peer

		writeMu sync.Mutex
		subs    registry.Registry[transport.Inbound]
	}

	Options struct {
		Config   *config.Config
		Security *security.Security
		HTTP     *http.Client
	}
)

var _ transport.Transport = (*Client)(nil)

func New(o Options) *Client {
	httpClient := o.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	scheme := "wss"
	if o.Config.Relay.Scheme == "http" {
		scheme = "ws"
	}
	return &Client{
		security:  o.Security,
		selector:  matrix.NewNodeSelector(o.Security.KeyPair().PublicKey, o.Config.Relay, httpClient),
		scheme:    scheme,
		dialer:    ws.DefaultDialer,
		listeners: make(map[string]model.Peer),
	}
}

func (c *Client) Kind() string { return Kind }

func (c *Client) Connect(ctx context.Context) error {
	var connected bool
	phony.Block(c, func() { connected = c.conn != nil })
	if connected {
		return nil
	}

	node, err := c.selector.Resolve(ctx)
	if err != nil {
		return err
	}
	u := url.URL{
		Scheme:   c.scheme,
		Host:     node,
		Path:     "/ws",
		RawQuery: url.Values{"userID": []string{c.security.UserHash()}}.Encode(),
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	phony.Block(c, func() { c.conn = conn })
	go c.listen(conn)
	log.Debug("websocket connected", zap.String("node", node))
	return nil
}

// Disconnect closes the socket. The hub keeps frames sent meanwhile and
// forwards them on the next Connect.
func (c *Client) Disconnect(context.Context) error {
	var conn *ws.Conn
	phony.Block(c, func() {
		conn, c.conn = c.conn, nil
	})
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) Pause(ctx context.Context) error { return c.Disconnect(ctx) }

func (c *Client) Resume(ctx context.Context) error { return c.Connect(ctx) }

func (c *Client) Listen(peer model.Peer) {
	phony.Block(c, func() { c.listeners[peer.PublicKey] = peer })
}

func (c *Client) Unlisten(publicKey string) {
	phony.Block(c, func() { delete(c.listeners, publicKey) })
}

func (c *Client) Subscribe(h func(transport.Inbound)) func() {
	return c.subs.Add(h)
}

func (c *Client) Send(_ context.Context, peer model.Peer, payload string) error {
	var conn *ws.Conn
	phony.Block(c, func() { conn = c.conn })
	if conn == nil {
		return errNotConnected
	}
	raw, err := security.HexKey(peer.PublicKey)
	if err != nil {
		return err
	}
	body, err := c.security.EncryptFor(peer.PublicKey, []byte(payload))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(&model.Frame{
		From:      c.security.UserHash(),
		To:        security.UserHash(raw),
		PublicKey: c.security.PublicKeyHex(),
		Payload:   body,
	})
}

func (c *Client) PairingRequest(context.Context) (model.PairingRequest, error) {
	return model.PairingRequest{}, model.ErrPairingUnsupported
}

func (c *Client) Pair(context.Context, func(model.PairingMessage)) (func(), error) {
	return nil, model.ErrPairingUnsupported
}

func (c *Client) PairWith(context.Context, model.PairingRequest) error {
	return model.ErrPairingUnsupported
}

func (c *Client) listen(conn *ws.Conn) {
	defer func() {
		phony.Block(c, func() {
			if c.conn == conn {
				c.conn = nil
			}
		})
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("websocket closed", zap.Error(err))
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error("Unmarshal frame failed", zap.Error(err))
			continue
		}
		c.onFrame(frame)
	}
}

func (c *Client) onFrame(frame model.Frame) {
	var (
		peer model.Peer
		ok   bool
	)
	phony.Block(c, func() { peer, ok = c.listeners[frame.PublicKey] })
	if !ok {
		return
	}
	// the hub pins From to the socket owner, so it must hash to the key
	if !security.IsMessageFromHex("@"+frame.From, peer.PublicKey) {
		log.Warn("dropping frame with mismatched sender", zap.String("from", frame.From))
		return
	}
	plain, err := c.security.DecryptFrom(peer.PublicKey, frame.Payload)
	if err != nil {
		log.Debug("undecryptable frame", zap.Error(err))
		return
	}
	c.subs.Emit(transport.Inbound{Kind: Kind, PublicKey: peer.PublicKey, Payload: string(plain)})
}
