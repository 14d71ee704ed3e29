package model

import "time"

const (
	PairingRequestType  = "p2p-pairing-request"
	PairingResponseType = "p2p-pairing-response"
)

type (
	// Peer is a paired remote party. PublicKey (hex) is its identity; the
	// relay server may change over the peer's lifetime.
	Peer struct {
		ID          string `json:"id,omitempty"`
		Name        string `json:"name"`
		PublicKey   string `json:"publicKey"`
		RelayServer string `json:"relayServer"`
		Version     string `json:"version"`
		Icon        string `json:"icon,omitempty"`
		AppURL      string `json:"appUrl,omitempty"`
	}

	AppMetadata struct {
		SenderID string `json:"senderId"`
		Name     string `json:"name"`
		Icon     string `json:"icon,omitempty"`
	}

	// Permission links a dApp's metadata to the account public key a wallet
	// granted it.
	Permission struct {
		AccountID   string      `json:"accountIdentifier" bson:"account_id"`
		SenderID    string      `json:"senderId" bson:"sender_id"`
		AppMetadata AppMetadata `json:"appMetadata" bson:"app_metadata"`
		PublicKey   string      `json:"publicKey" bson:"public_key"`
		Address     string      `json:"address,omitempty" bson:"address,omitempty"`
		Network     string      `json:"network,omitempty" bson:"network,omitempty"`
		Scopes      []string    `json:"scopes" bson:"scopes"`
		ConnectedAt time.Time   `json:"connectedAt" bson:"connected_at"`
	}

	// PairingRequest is what a dApp shows (QR code, deeplink) to be paired.
	PairingRequest struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		PublicKey   string `json:"publicKey"`
		RelayServer string `json:"relayServer"`
		Icon        string `json:"icon,omitempty"`
		AppURL      string `json:"appUrl,omitempty"`
	}

	// PairingResponse is what the wallet sends back over the opened channel.
	PairingResponse struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		PublicKey   string `json:"publicKey"`
		RelayServer string `json:"relayServer"`
		Icon        string `json:"icon,omitempty"`
		AppURL      string `json:"appUrl,omitempty"`
	}

	// PairingMessage is either a *PairingRequest or a *PairingResponse.
	PairingMessage interface {
		pairingMessage()
	}
)

func (*PairingRequest) pairingMessage()  {}
func (*PairingResponse) pairingMessage() {}

func (r PairingRequest) Peer() Peer {
	return Peer{ID: r.ID, Name: r.Name, PublicKey: r.PublicKey, RelayServer: r.RelayServer, Version: r.Version, Icon: r.Icon, AppURL: r.AppURL}
}

func (r PairingResponse) Peer() Peer {
	return Peer{ID: r.ID, Name: r.Name, PublicKey: r.PublicKey, RelayServer: r.RelayServer, Version: r.Version, Icon: r.Icon, AppURL: r.AppURL}
}
