// Package matrix is the relay transport: a minimal Matrix client that logs
// in with a key-derived credential, long-polls each node for room events and
// creates, joins and posts to rooms. Sync state lives in a store.MatrixState
// store; the engine only owns the poll goroutines.
package matrix

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/store"
	"beacon_p2p/internal/utils/log"
	"beacon_p2p/internal/utils/registry"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type (
	Engine struct {
		cfg   config.RelayConfig
		store *store.Store[store.MatrixState]
		http  *http.Client
		subs  registry.Registry[Event]
		sleep func(ctx context.Context, d time.Duration) error
		mu    sync.Mutex
		nodes map[string]*poller
	}

	poller struct {
		node   string
		client *Client
		cancel context.CancelFunc
		gate   *gate
		done   chan struct{}
		err    error
	}

	Option func(*Engine)
)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.http = c }
}

func NewEngine(cfg config.RelayConfig, st *store.Store[store.MatrixState], opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg,
		store: st,
		http:  http.DefaultClient,
		sleep: sleepCtx,
		nodes: make(map[string]*poller),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Subscribe registers h for events from every node. The returned function
// removes it.
func (e *Engine) Subscribe(h func(Event)) func() {
	return e.subs.Add(h)
}

// Start logs into node and starts its poll loop. Starting a running node is
// a no-op.
func (e *Engine) Start(ctx context.Context, node string, creds model.Credentials) error {
	if e.Running(node) {
		return nil
	}

	client := NewClient(NodeURL(e.cfg.Scheme, node), e.http)
	client.Timeout = e.cfg.RequestTimeout
	resp, err := client.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login %s: %w", node, err)
	}
	if _, err := e.store.Dispatch(ctx, store.LoggedIn{Node: node, UserID: resp.UserID, AccessToken: resp.AccessToken}); err != nil {
		log.Warn("persist login state failed", zap.String("node", node), zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &poller{
		node:   node,
		client: client,
		cancel: cancel,
		gate:   newGate(),
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if prev, ok := e.nodes[node]; ok && !prev.finished() {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.nodes[node] = p
	e.mu.Unlock()

	log.Info("relay node started", zap.String("node", node), zap.String("user", resp.UserID))
	go e.poll(loopCtx, p)
	return nil
}

// Pause suspends the poll loop of node after the request in flight. The
// sync token is kept.
func (e *Engine) Pause(node string) {
	if p := e.poller(node); p != nil {
		p.gate.pause()
	}
}

func (e *Engine) Resume(node string) {
	if p := e.poller(node); p != nil {
		p.gate.resume()
	}
}

// Stop cancels the request in flight, ends the poll loop and forgets the
// node's session.
func (e *Engine) Stop(node string) {
	e.mu.Lock()
	p, ok := e.nodes[node]
	delete(e.nodes, node)
	e.mu.Unlock()
	if !ok {
		return
	}
	p.cancel()
	<-p.done
	if _, err := e.store.Dispatch(context.Background(), store.NodeStopped{Node: node}); err != nil {
		log.Warn("persist stop failed", zap.String("node", node), zap.Error(err))
	}
	log.Info("relay node stopped", zap.String("node", node))
}

// Wait blocks until the poll loop of node ends and returns why it ended. It
// returns nil for a loop ended by Stop and for an unknown node.
func (e *Engine) Wait(ctx context.Context, node string) error {
	p := e.poller(node)
	if p == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.err
	}
}

// Running reports whether node has a live poll loop.
func (e *Engine) Running(node string) bool {
	p := e.poller(node)
	return p != nil && !p.finished()
}

func (p *poller) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (e *Engine) poller(node string) *poller {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes[node]
}

func (e *Engine) session(node string) (*poller, store.SyncState, error) {
	p := e.poller(node)
	if p == nil {
		return nil, store.SyncState{}, fmt.Errorf("relay node %s is not started", node)
	}
	return p, e.store.State().Node(node), nil
}

// UserID is the relay user this installation is logged in as on node.
func (e *Engine) UserID(node string) string {
	return e.store.State().Node(node).UserID
}

// Rooms returns the known rooms of node.
func (e *Engine) Rooms(node string) []model.Room {
	st := e.store.State().Node(node)
	out := make([]model.Room, 0, len(st.Rooms))
	for _, r := range st.Rooms {
		out = append(out, r)
	}
	return out
}

func (e *Engine) poll(ctx context.Context, p *poller) {
	defer close(p.done)

	interval := e.cfg.SyncRetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	limiter.Allow()

	for {
		if err := p.gate.wait(ctx); err != nil {
			return
		}
		st := e.store.State().Node(p.node)
		e.store.Dispatch(ctx, store.PollStarted{Node: p.node})

		resp, err := p.client.Sync(ctx, st.AccessToken, st.SyncToken, st.PollingTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			next, _ := e.store.Dispatch(ctx, store.SyncFailed{Node: p.node})
			retries := next.Node(p.node).PollingRetries
			log.Warn("sync failed", zap.String("node", p.node), zap.Int("retries", retries), zap.Error(err))
			if retries >= e.cfg.SyncRetries {
				p.err = &model.RetryExhaustedError{Op: "sync", Attempts: retries, Last: err}
				log.Error("sync gave up", zap.String("node", p.node), zap.Error(p.err))
				e.subs.Emit(FatalEvent{Node: p.node, Err: p.err})
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			continue
		}

		if _, err := e.store.Dispatch(ctx, store.SyncSucceeded{
			Node:           p.node,
			SyncToken:      resp.NextBatch,
			PollingTimeout: e.cfg.PollingTimeout,
		}); err != nil {
			log.Warn("persist sync token failed", zap.String("node", p.node), zap.Error(err))
		}
		e.handleSync(ctx, p.node, resp)
	}
}

// handleSync merges the rooms of a sync response and emits its events in
// order: invites, then joined room timelines.
func (e *Engine) handleSync(ctx context.Context, node string, resp SyncResponse) {
	var (
		rooms  []model.Room
		events []Event
	)
	self := e.store.State().Node(node).UserID

	for id, inv := range resp.Rooms.Invite {
		room := model.NewRoom(id, model.RoomStatusInvited)
		var inviter string
		for _, ev := range inv.InviteState.Events {
			if ev.Type != EventTypeMember {
				continue
			}
			var mc MemberContent
			if json.Unmarshal(ev.Content, &mc) != nil {
				continue
			}
			if mc.Membership == MembershipJoin {
				room.Members[ev.Sender] = struct{}{}
			}
			if mc.Membership == MembershipInvite && ev.StateKey != nil && *ev.StateKey == self {
				inviter = ev.Sender
			}
		}
		rooms = append(rooms, room)
		events = append(events, InviteEvent{Node: node, RoomID: id, Sender: inviter})
	}

	for id, joined := range resp.Rooms.Join {
		room := model.NewRoom(id, model.RoomStatusJoined)
		for _, ev := range append(joined.State.Events, joined.Timeline.Events...) {
			switch ev.Type {
			case EventTypeMember:
				var mc MemberContent
				if json.Unmarshal(ev.Content, &mc) != nil || mc.Membership != MembershipJoin {
					continue
				}
				member := ev.Sender
				if ev.StateKey != nil && *ev.StateKey != "" {
					member = *ev.StateKey
				}
				room.Members[member] = struct{}{}
				events = append(events, JoinEvent{Node: node, RoomID: id, Member: member})
			case EventTypeMessage:
				var tc TextContent
				if json.Unmarshal(ev.Content, &tc) != nil || tc.MsgType != MsgTypeText {
					continue
				}
				events = append(events, TextMessageEvent{Node: node, RoomID: id, EventID: ev.EventID, Sender: ev.Sender, Body: tc.Body})
			}
		}
		rooms = append(rooms, room)
	}

	for id := range resp.Rooms.Leave {
		rooms = append(rooms, model.NewRoom(id, model.RoomStatusLeft))
	}

	if len(rooms) > 0 {
		if _, err := e.store.Dispatch(ctx, store.RoomsMerged{Node: node, Rooms: rooms}); err != nil {
			log.Warn("persist rooms failed", zap.String("node", node), zap.Error(err))
		}
	}
	for _, ev := range events {
		e.subs.Emit(ev)
	}
}

// CreateTrustedPrivateRoom creates a direct room pre-trusted for members and
// returns its id. A relay answering without a room id yields model.ErrNoRoom.
func (e *Engine) CreateTrustedPrivateRoom(ctx context.Context, node string, members ...string) (string, error) {
	p, st, err := e.session(node)
	if err != nil {
		return "", err
	}
	id, err := p.client.CreateRoom(ctx, st.AccessToken, CreateRoomRequest{
		RoomVersion: RoomVersion,
		Invite:      members,
		Preset:      PresetTrustedPrivateChat,
		IsDirect:    true,
	})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	if id == "" {
		return "", model.ErrNoRoom
	}
	room := model.NewRoom(id, model.RoomStatusJoined, append([]string{st.UserID}, members...)...)
	if _, err := e.store.Dispatch(ctx, store.RoomsMerged{Node: node, Rooms: []model.Room{room}}); err != nil {
		log.Warn("persist rooms failed", zap.String("node", node), zap.Error(err))
	}
	return id, nil
}

// JoinRoom joins roomID. A 403 right after an invite is usually federation
// lag, so it is retried JoinRetries times with a fixed delay. Other errors
// return at once.
func (e *Engine) JoinRoom(ctx context.Context, node, roomID string) error {
	p, st, err := e.session(node)
	if err != nil {
		return err
	}
	attempts := max(e.cfg.JoinRetries, 1)
	var last error
	for i := 1; i <= attempts; i++ {
		err := p.client.Join(ctx, st.AccessToken, roomID)
		if err == nil {
			room := model.NewRoom(roomID, model.RoomStatusJoined, st.UserID)
			if _, err := e.store.Dispatch(ctx, store.RoomsMerged{Node: node, Rooms: []model.Room{room}}); err != nil {
				log.Warn("persist rooms failed", zap.String("node", node), zap.Error(err))
			}
			return nil
		}
		if !model.IsForbidden(err) {
			return fmt.Errorf("join %s: %w", roomID, err)
		}
		last = err
		log.Debug("join forbidden, retrying", zap.String("room", roomID), zap.Int("attempt", i))
		if i == attempts {
			break
		}
		if err := e.sleep(ctx, e.cfg.JoinRetryDelay); err != nil {
			return err
		}
	}
	return &model.RetryExhaustedError{Op: "join", Attempts: attempts, Last: last}
}

// SendTextMessage posts body to roomID with the next transaction id of the
// node session.
func (e *Engine) SendTextMessage(ctx context.Context, node, roomID, body string) error {
	p, st, err := e.session(node)
	if err != nil {
		return err
	}
	next, _ := e.store.Dispatch(ctx, store.TxnAllocated{Node: node})
	txn := "m" + strconv.FormatInt(next.Node(node).TxnNo, 10)
	if _, err := p.client.Send(ctx, st.AccessToken, roomID, txn, body); err != nil {
		return fmt.Errorf("send to %s: %w", roomID, err)
	}
	return nil
}
