package p2p

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/matrix"
	"beacon_p2p/internal/protocol/security"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/store"
	"beacon_p2p/internal/utils/log"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// onEvent runs on the poll goroutine of the node that produced ev.
func (c *Client) onEvent(ev matrix.Event) {
	switch ev := ev.(type) {
	case matrix.InviteEvent:
		go c.acceptInvite(ev)
	case matrix.TextMessageEvent:
		c.onText(ev)
	case matrix.FatalEvent:
		log.Error("relay polling stopped", zap.String("node", ev.Node), zap.Error(ev.Err))
	}
}

// joinTimeout covers every join attempt and the delays between them. It
// is zero when requests are unbounded.
func joinTimeout(cfg config.RelayConfig) time.Duration {
	if cfg.RequestTimeout <= 0 {
		return 0
	}
	return time.Duration(max(cfg.JoinRetries, 1)) * (cfg.RequestTimeout + cfg.JoinRetryDelay)
}

func (c *Client) acceptInvite(ev matrix.InviteEvent) {
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if c.joinTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.joinTimeout)
	}
	defer cancel()
	if err := c.engine.JoinRoom(ctx, ev.Node, ev.RoomID); err != nil {
		log.Error("join invited room failed", zap.String("room", ev.RoomID), zap.Error(err))
		return
	}
	log.Debug("joined room", zap.String("room", ev.RoomID), zap.String("inviter", ev.Sender))
}

func (c *Client) onText(ev matrix.TextMessageEvent) {
	if ev.Sender == c.engine.UserID(ev.Node) {
		return
	}
	if strings.HasPrefix(ev.Body, "@channel-open:") {
		c.onChannelOpen(ev)
		return
	}

	for _, peer := range c.listening() {
		if !security.IsMessageFromHex(ev.Sender, peer.PublicKey) {
			continue
		}
		plain, err := c.security.DecryptFrom(peer.PublicKey, ev.Body)
		if err != nil {
			// not for us, or not from this peer
			continue
		}
		if _, err := c.channels.Dispatch(context.Background(), store.ChannelEvent{Peer: ev.Sender, Room: ev.RoomID}); err != nil {
			log.Warn("persist channel failed", zap.Error(err))
		}
		c.subs.Emit(transport.Inbound{Kind: Kind, PublicKey: peer.PublicKey, Payload: string(plain)})
		return
	}
}

func (c *Client) onChannelOpen(ev matrix.TextMessageEvent) {
	sealed, ok := security.ParseChannelOpen(ev.Body, c.security.UserHash())
	if !ok {
		return
	}
	payload, err := c.security.Open(sealed)
	if err != nil {
		return
	}
	resp, err := security.ParsePairingPayload(payload)
	if err != nil {
		log.Debug("unreadable pairing payload", zap.Error(err))
		return
	}
	if !security.IsMessageFromHex(ev.Sender, resp.PublicKey) {
		log.Warn("pairing response from a sender not owning its key", zap.String("sender", ev.Sender))
		return
	}
	if resp.RelayServer == "" {
		resp.RelayServer = security.ServerOf(ev.Sender)
	}
	if _, err := c.channels.Dispatch(context.Background(), store.ChannelEvent{Peer: ev.Sender, Room: ev.RoomID}); err != nil {
		log.Warn("persist channel failed", zap.Error(err))
	}
	var msg model.PairingMessage = resp
	c.pairing.Emit(msg)
}
