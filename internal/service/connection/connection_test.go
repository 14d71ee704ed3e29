package connection

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/wire"
	"beacon_p2p/internal/service/transport"
	"beacon_p2p/internal/utils/registry"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	kind string
	fail error

	mu        sync.Mutex
	calls     []string
	sent      []string
	listening map[string]bool

	subs    registry.Registry[transport.Inbound]
	pairing registry.Registry[model.PairingMessage]
}

func newFake(kind string, fail error) *fakeTransport {
	return &fakeTransport{kind: kind, fail: fail, listening: make(map[string]bool)}
}

func (f *fakeTransport) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return f.fail
}

func (f *fakeTransport) Kind() string                     { return f.kind }
func (f *fakeTransport) Connect(context.Context) error    { return f.record("connect") }
func (f *fakeTransport) Disconnect(context.Context) error { return f.record("disconnect") }
func (f *fakeTransport) Pause(context.Context) error      { return f.record("pause") }
func (f *fakeTransport) Resume(context.Context) error     { return f.record("resume") }

func (f *fakeTransport) Listen(p model.Peer) {
	f.mu.Lock()
	f.listening[p.PublicKey] = true
	f.mu.Unlock()
}

func (f *fakeTransport) Unlisten(pk string) {
	f.mu.Lock()
	delete(f.listening, pk)
	f.mu.Unlock()
}

func (f *fakeTransport) Subscribe(h func(transport.Inbound)) func() { return f.subs.Add(h) }

func (f *fakeTransport) Send(_ context.Context, _ model.Peer, payload string) error {
	f.mu.Lock()
	f.sent = append(f.sent, payload)
	f.mu.Unlock()
	return f.fail
}

func (f *fakeTransport) PairingRequest(context.Context) (model.PairingRequest, error) {
	return model.PairingRequest{ID: "pair-" + f.kind}, nil
}

func (f *fakeTransport) Pair(_ context.Context, h func(model.PairingMessage)) (func(), error) {
	return f.pairing.Add(h), nil
}

func (f *fakeTransport) PairWith(context.Context, model.PairingRequest) error {
	return f.record("pair_with")
}

func ack(id string) wire.Message {
	return &wire.V2{Type: string(model.AcknowledgeType), ID: id, SenderID: "s", Fields: wire.Fields{}}
}

func TestFanOutReachesEveryTransport(t *testing.T) {
	ctx := context.Background()
	a, b := newFake("p2p", nil), newFake("websocket", nil)
	c := New(a, b)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Resume(ctx))
	require.NoError(t, c.Disconnect(ctx))
	for _, f := range []*fakeTransport{a, b} {
		assert.Equal(t, []string{"connect", "pause", "resume", "disconnect"}, f.calls)
	}
}

func TestPartialFailureNamesEveryFailingKind(t *testing.T) {
	boom := errors.New("boom")
	c := New(newFake("p2p", boom), newFake("websocket", boom), newFake("ok", nil))

	err := c.Connect(context.Background())
	var pf *model.PartialFailureError
	require.ErrorAs(t, err, &pf)
	kinds := pf.Kinds()
	sort.Strings(kinds)
	assert.Equal(t, []string{"p2p", "websocket"}, kinds)
	assert.ErrorIs(t, err, boom)
}

func TestSendEncodesOnce(t *testing.T) {
	a, b := newFake("p2p", nil), newFake("websocket", nil)
	c := New(a, b)

	require.NoError(t, c.Send(context.Background(), model.Peer{PublicKey: "pk"}, ack("r1")))
	require.Len(t, a.sent, 1)
	assert.Equal(t, a.sent, b.sent)

	decoded, err := wire.Decode(a.sent[0])
	require.NoError(t, err)
	assert.Equal(t, "r1", decoded.MessageID())
}

func TestIncomingDecodedWithOrigin(t *testing.T) {
	a := newFake("p2p", nil)
	c := New(a)

	var got []Incoming
	defer c.Subscribe(func(in Incoming) { got = append(got, in) })()

	payload, err := wire.Encode(ack("r2"))
	require.NoError(t, err)
	a.subs.Emit(transport.Inbound{Kind: "p2p", PublicKey: "pk", Payload: payload})
	a.subs.Emit(transport.Inbound{Kind: "p2p", PublicKey: "pk", Payload: "not base58check"})

	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].Message.MessageID())
	assert.Equal(t, transport.Origin{Kind: "p2p", PublicKey: "pk"}, got[0].Origin)
}

func TestAddRemovePeer(t *testing.T) {
	a, b := newFake("p2p", nil), newFake("websocket", nil)
	c := New(a, b)

	c.AddPeer(model.Peer{PublicKey: "pk"})
	assert.True(t, a.listening["pk"])
	assert.True(t, b.listening["pk"])
	c.RemovePeer("pk")
	assert.Empty(t, a.listening)
	assert.Empty(t, b.listening)
}

func TestPairUnsubscribesAfterResponse(t *testing.T) {
	a := newFake("p2p", nil)
	c := New(a)

	var seen []model.PairingMessage
	_, err := c.Pair(context.Background(), "p2p", func(m model.PairingMessage) { seen = append(seen, m) })
	require.NoError(t, err)

	a.pairing.Emit(&model.PairingRequest{ID: "1"})
	a.pairing.Emit(&model.PairingRequest{ID: "1"})
	assert.Equal(t, 1, a.pairing.Len())

	a.pairing.Emit(&model.PairingResponse{ID: "1"})
	assert.Equal(t, 0, a.pairing.Len())

	a.pairing.Emit(&model.PairingResponse{ID: "2"})
	assert.Len(t, seen, 3)
}

func TestPairUnknownKind(t *testing.T) {
	c := New(newFake("p2p", nil))
	_, err := c.Pair(context.Background(), "carrier-pigeon", func(model.PairingMessage) {})
	assert.Error(t, err)

	req, err := c.PairingRequest(context.Background(), "p2p")
	require.NoError(t, err)
	assert.Equal(t, "pair-p2p", req.ID)
}
