// Package transport is the contract between the connection controller and
// the ways of reaching a peer (relay rooms, direct websocket).
package transport

import (
	"beacon_p2p/internal/model"
	"context"
)

type (
	// Inbound is a decrypted payload received from a known peer.
	Inbound struct {
		Kind      string
		PublicKey string
		Payload   string
	}

	// Origin names the transport and peer a message came from or goes to.
	Origin struct {
		Kind      string
		PublicKey string
	}

	Transport interface {
		Kind() string
		Connect(ctx context.Context) error
		Disconnect(ctx context.Context) error
		Pause(ctx context.Context) error
		Resume(ctx context.Context) error

		// Listen starts accepting traffic from peer.
		Listen(peer model.Peer)
		Unlisten(publicKey string)
		Subscribe(h func(Inbound)) (unsubscribe func())
		Send(ctx context.Context, peer model.Peer, payload string) error

		// PairingRequest describes how a remote wallet reaches this
		// installation.
		PairingRequest(ctx context.Context) (model.PairingRequest, error)
		// Pair delivers pairing messages to onMessage until unsubscribed.
		Pair(ctx context.Context, onMessage func(model.PairingMessage)) (unsubscribe func(), err error)
		// PairWith answers a pairing request.
		PairWith(ctx context.Context, request model.PairingRequest) error
	}
)

func (in Inbound) Origin() Origin {
	return Origin{Kind: in.Kind, PublicKey: in.PublicKey}
}
