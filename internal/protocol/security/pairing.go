package security

import (
	"beacon_p2p/internal/model"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const channelOpenPrefix = "@channel-open:"

// BuildPairingPayload renders the pairing response of local for the given
// protocol version. Version 1 peers only understand a bare hex public key.
func BuildPairingPayload(local model.Peer, relayServer, version string) ([]byte, error) {
	switch version {
	case "1":
		return []byte(local.PublicKey), nil
	case "2", "3":
		return json.Marshal(model.PairingResponse{
			ID:          local.ID,
			Type:        model.PairingResponseType,
			Name:        local.Name,
			Version:     version,
			PublicKey:   local.PublicKey,
			RelayServer: relayServer,
			Icon:        local.Icon,
			AppURL:      local.AppURL,
		})
	}
	return nil, &model.UnknownMessageError{Version: version, Type: model.PairingResponseType}
}

// ParsePairingPayload decodes a pairing response. JSON is tried first; a
// payload that is not a JSON object is read as a version 1 hex public key.
func ParsePairingPayload(payload []byte) (*model.PairingResponse, error) {
	var resp model.PairingResponse
	if err := json.Unmarshal(payload, &resp); err == nil && resp.PublicKey != "" {
		if resp.Type == "" {
			resp.Type = model.PairingResponseType
		}
		return &resp, nil
	}

	key := strings.TrimSpace(string(payload))
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("pairing payload is neither json nor a public key")
	}
	return &model.PairingResponse{
		Type:      model.PairingResponseType,
		Version:   "1",
		PublicKey: key,
	}, nil
}

// ChannelOpenMessage frames a sealed pairing payload for recipientID.
func ChannelOpenMessage(recipientID, sealedHex string) string {
	return channelOpenPrefix + recipientID + ":" + sealedHex
}

// ParseChannelOpen returns the sealed payload of a channel-open body that is
// addressed to the user ownHash.
func ParseChannelOpen(body, ownHash string) (string, bool) {
	if !strings.HasPrefix(body, channelOpenPrefix+"@"+ownHash) {
		return "", false
	}
	i := strings.LastIndexByte(body, ':')
	if i < 0 || i == len(body)-1 {
		return "", false
	}
	return body[i+1:], true
}
