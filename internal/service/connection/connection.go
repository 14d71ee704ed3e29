// Package connection fans calls out over every configured transport and
// presents them as one logical channel of wire messages.
package connection

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/wire"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/utils/log"
	"beacon_p2p/internal/utils/registry"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type (
	Incoming struct {
		Message wire.Message
		Origin  transport.Origin
	}

	Controller struct {
		transports []transport.Transport
		byKind     map[string]transport.Transport
		unsubs     []func()
		subs       registry.Registry[Incoming]
	}
)

func New(transports ...transport.Transport) *Controller {
	c := &Controller{
		transports: transports,
		byKind:     make(map[string]transport.Transport, len(transports)),
	}
	for _, t := range transports {
		c.byKind[t.Kind()] = t
		c.unsubs = append(c.unsubs, t.Subscribe(c.onInbound))
	}
	return c
}

// Close detaches from the transports. It does not disconnect them.
func (c *Controller) Close() {
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
}

func (c *Controller) onInbound(in transport.Inbound) {
	msg, err := wire.Decode(in.Payload)
	if err != nil {
		log.Warn("dropping undecodable message", zap.String("kind", in.Kind), zap.String("peer", in.PublicKey), zap.Error(err))
		return
	}
	c.subs.Emit(Incoming{Message: msg, Origin: in.Origin()})
}

// Subscribe delivers every decoded incoming message.
func (c *Controller) Subscribe(h func(Incoming)) func() {
	return c.subs.Add(h)
}

// fanOut runs f on every transport concurrently and waits for all of them.
// f takes the transport first so method expressions can be passed.
func (c *Controller) fanOut(ctx context.Context, op string, f func(transport.Transport, context.Context) error) error {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []model.TransportFailure
	)
	for _, t := range c.transports {
		t := t
		g.Go(func() error {
			if err := f(t, ctx); err != nil {
				mu.Lock()
				failures = append(failures, model.TransportFailure{Kind: t.Kind(), Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if len(failures) > 0 {
		return &model.PartialFailureError{Op: op, Failures: failures}
	}
	return nil
}

func (c *Controller) Connect(ctx context.Context) error {
	return c.fanOut(ctx, "connect", transport.Transport.Connect)
}

func (c *Controller) Disconnect(ctx context.Context) error {
	return c.fanOut(ctx, "disconnect", transport.Transport.Disconnect)
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.fanOut(ctx, "pause", transport.Transport.Pause)
}

func (c *Controller) Resume(ctx context.Context) error {
	return c.fanOut(ctx, "resume", transport.Transport.Resume)
}

// Send encodes msg once and hands the same envelope to every transport.
func (c *Controller) Send(ctx context.Context, peer model.Peer, msg wire.Message) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return c.fanOut(ctx, "send", func(t transport.Transport, ctx context.Context) error {
		return t.Send(ctx, peer, payload)
	})
}

// AddPeer makes every transport accept traffic from peer.
func (c *Controller) AddPeer(peer model.Peer) {
	for _, t := range c.transports {
		t.Listen(peer)
	}
}

func (c *Controller) RemovePeer(publicKey string) {
	for _, t := range c.transports {
		t.Unlisten(publicKey)
	}
}

func (c *Controller) transport(kind string) (transport.Transport, error) {
	t, ok := c.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("connection: unknown transport %q", kind)
	}
	return t, nil
}

func (c *Controller) PairingRequest(ctx context.Context, kind string) (model.PairingRequest, error) {
	t, err := c.transport(kind)
	if err != nil {
		return model.PairingRequest{}, err
	}
	return t.PairingRequest(ctx)
}

func (c *Controller) PairWith(ctx context.Context, kind string, request model.PairingRequest) error {
	t, err := c.transport(kind)
	if err != nil {
		return err
	}
	return t.PairWith(ctx, request)
}

// Pair listens for pairing messages on kind. Requests may arrive any
// number of times; the first response ends the subscription.
func (c *Controller) Pair(ctx context.Context, kind string, onMessage func(model.PairingMessage)) (func(), error) {
	t, err := c.transport(kind)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		done  bool
		unsub func()
	)
	stop := func() {
		mu.Lock()
		done = true
		u := unsub
		mu.Unlock()
		if u != nil {
			u()
		}
	}

	u, err := t.Pair(ctx, func(m model.PairingMessage) {
		mu.Lock()
		finished := done
		mu.Unlock()
		if finished {
			return
		}
		onMessage(m)
		if _, ok := m.(*model.PairingResponse); ok {
			stop()
		}
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	unsub = u
	finished := done
	mu.Unlock()
	if finished {
		u()
	}
	return stop, nil
}
