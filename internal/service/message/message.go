// Package message tracks in-flight requests in both directions and
// translates between canonical messages and their wire versions.
package message

import (
	"beacon_p2p/internal/cryptographic/hash"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/wire"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/utils/log"
	"context"
	"errors"
	"time"

	"github.com/Arceliar/phony"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errUnknownOutgoing = errors.New("message: no outgoing request with this id")

type (
	// PermissionStore keeps what a wallet granted.
	PermissionStore interface {
		Save(ctx context.Context, p model.Permission) error
	}

	// Controller owns two tables. pending holds requests received from
	// peers until we answer them; outgoing holds our requests until the
	// peer answers.
	Controller struct {
		phony.Inbox
		version     string
		permissions PermissionStore
		now         func() time.Time

		pending  map[string]pendingRequest
		outgoing map[string]*call
	}

	pendingRequest struct {
		request model.Request
		origin  transport.Origin
	}

	call struct {
		done     chan struct{}
		acked    chan struct{}
		response model.Response
	}
)

// New creates a Controller. version is used for outgoing requests whose
// header does not name one. permissions may be nil on a dApp.
func New(version string, permissions PermissionStore) *Controller {
	return &Controller{
		version:     version,
		permissions: permissions,
		now:         time.Now,
		pending:     make(map[string]pendingRequest),
		outgoing:    make(map[string]*call),
	}
}

// OnIncoming parses m. Requests are recorded as pending before returning;
// responses complete or acknowledge the matching outgoing request.
func (c *Controller) OnIncoming(_ context.Context, m wire.Message, origin transport.Origin) (model.Message, error) {
	msg, err := wire.ToCanonical(m)
	if err != nil {
		return nil, err
	}
	id := msg.MessageHeader().ID

	switch msg := msg.(type) {
	case model.Request:
		phony.Block(c, func() {
			// a repeated id replaces the earlier request
			c.pending[id] = pendingRequest{request: msg, origin: origin}
		})
	case model.Response:
		var matched bool
		phony.Block(c, func() {
			cl, ok := c.outgoing[id]
			if !ok {
				return
			}
			matched = true
			if !model.IsTerminal(msg) {
				select {
				case <-cl.acked:
				default:
					close(cl.acked)
				}
				return
			}
			select {
			case <-cl.done:
				// duplicate terminal response
			default:
				cl.response = msg
				close(cl.done)
			}
		})
		if !matched {
			log.Debug("response without outgoing request", zap.String("id", id), zap.String("type", string(msg.Type())))
		}
	}
	return msg, nil
}

// OnOutgoing renders msg for the wire. A response needs a pending request
// with its id and is encoded in that request's version; terminal removes
// the entry once the response is rendered, and a failure leaves it pending.
// A permission grant is saved before the response leaves. The returned
// origin is where the answered request came from, and is zero for requests,
// which the caller addresses.
func (c *Controller) OnOutgoing(ctx context.Context, msg model.Message, senderID string, terminal bool) (transport.Origin, wire.Message, error) {
	h := msg.MessageHeader()
	h.SenderID = senderID

	var origin transport.Origin
	version := h.Version

	switch msg := msg.(type) {
	case model.Response:
		var (
			entry pendingRequest
			ok    bool
		)
		phony.Block(c, func() { entry, ok = c.pending[h.ID] })
		if !ok {
			return origin, nil, &model.NoPendingRequestError{ID: h.ID}
		}
		origin = entry.origin
		version = entry.request.MessageHeader().Version

		if grant, isGrant := msg.(*model.PermissionResponse); isGrant {
			if err := c.savePermission(ctx, entry.request, grant); err != nil {
				return origin, nil, err
			}
		}

	case model.Request:
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		phony.Block(c, func() {
			c.outgoing[h.ID] = &call{done: make(chan struct{}), acked: make(chan struct{})}
		})
	}

	if version == "" {
		version = c.version
	}
	h.Version = version
	wm, err := wire.FromCanonical(msg, version)
	if err != nil {
		if _, isRequest := msg.(model.Request); isRequest {
			c.Forget(h.ID)
		}
		return origin, nil, err
	}
	if _, isResponse := msg.(model.Response); isResponse && terminal {
		c.Complete(h.ID)
	}
	return origin, wm, nil
}

// Complete drops the pending request id once its terminal response left.
func (c *Controller) Complete(id string) {
	phony.Block(c, func() { delete(c.pending, id) })
}

func (c *Controller) savePermission(ctx context.Context, req model.Request, grant *model.PermissionResponse) error {
	if c.permissions == nil {
		return nil
	}
	pr, ok := req.(*model.PermissionRequest)
	if !ok {
		log.Warn("permission response answers a non permission request", zap.String("id", grant.ID))
		return nil
	}
	network := grant.Network
	if network == "" {
		network = pr.Network
	}
	return c.permissions.Save(ctx, model.Permission{
		AccountID:   hash.Blake2b256Hex([]byte(grant.PublicKey + network)),
		SenderID:    pr.SenderID,
		AppMetadata: pr.AppMetadata,
		PublicKey:   grant.PublicKey,
		Address:     grant.Address,
		Network:     network,
		Scopes:      grant.Scopes,
		ConnectedAt: c.now(),
	})
}

// Await blocks until the outgoing request id gets its terminal response.
// A response that arrived before Await is returned immediately.
func (c *Controller) Await(ctx context.Context, id string) (model.Response, error) {
	var cl *call
	phony.Block(c, func() { cl = c.outgoing[id] })
	if cl == nil {
		return nil, errUnknownOutgoing
	}
	select {
	case <-cl.done:
		c.Forget(id)
		return cl.response, nil
	case <-ctx.Done():
		c.Forget(id)
		return nil, ctx.Err()
	}
}

// Acknowledged is closed once the peer acknowledged the outgoing request id.
func (c *Controller) Acknowledged(id string) (<-chan struct{}, error) {
	var cl *call
	phony.Block(c, func() { cl = c.outgoing[id] })
	if cl == nil {
		return nil, errUnknownOutgoing
	}
	return cl.acked, nil
}

// Forget drops an outgoing request nobody waits for anymore.
func (c *Controller) Forget(id string) {
	phony.Block(c, func() { delete(c.outgoing, id) })
}

// Pending returns the received request id that has not been answered yet.
func (c *Controller) Pending(id string) (model.Request, bool) {
	var (
		req model.Request
		ok  bool
	)
	phony.Block(c, func() {
		var p pendingRequest
		p, ok = c.pending[id]
		req = p.request
	})
	return req, ok
}
