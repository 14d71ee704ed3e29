// Package wire holds the three versions of the Beacon message envelope and
// converts them to and from the canonical messages in model.
//
// v1 and v2 are flat objects keyed by type; v1 names the sender beaconId and
// v2 senderId. v3 nests the message under "message" and wraps blockchain
// specific fields in blockchainData.
package wire

import (
	"beacon_p2p/internal/model"
	"encoding/json"
	"fmt"
)

type (
	// Message is one of *V1, *V2 or *V3.
	Message interface {
		WireVersion() string
		MessageID() string
	}

	// Fields are the payload fields of a message, flattened next to the
	// header on the wire.
	Fields map[string]json.RawMessage

	V1 struct {
		Type     string
		ID       string
		BeaconID string
		Fields   Fields
	}

	V2 struct {
		Type     string
		ID       string
		SenderID string
		Fields   Fields
	}

	V3 struct {
		ID       string    `json:"id"`
		Version  string    `json:"version"`
		SenderID string    `json:"senderId"`
		Message  V3Content `json:"message"`
	}

	V3Content struct {
		Type                 string `json:"type"`
		BlockchainIdentifier string `json:"blockchainIdentifier,omitempty"`
		// BlockchainData carries the payload fields of permission and
		// blockchain messages.
		BlockchainData Fields `json:"blockchainData,omitempty"`
		ErrorType      string `json:"errorType,omitempty"`
		Description    string `json:"description,omitempty"`
	}
)

const (
	v3BlockchainRequest  = "blockchain_request"
	v3BlockchainResponse = "blockchain_response"
)

func (*V1) WireVersion() string { return "1" }
func (*V2) WireVersion() string { return "2" }
func (*V3) WireVersion() string { return "3" }

func (m *V1) MessageID() string { return m.ID }
func (m *V2) MessageID() string { return m.ID }
func (m *V3) MessageID() string { return m.ID }

var headerKeys = []string{"type", "version", "id", "beaconId", "senderId"}

func flatten(fields Fields, header map[string]string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(fields)+len(header))
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range header {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return json.Marshal(out)
}

func split(data []byte) (Fields, map[string]string, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, nil, err
	}
	header := make(map[string]string, len(headerKeys))
	for _, k := range headerKeys {
		raw, ok := all[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, nil, fmt.Errorf("header %s: %w", k, err)
		}
		header[k] = s
		delete(all, k)
	}
	return all, header, nil
}

func (m *V1) MarshalJSON() ([]byte, error) {
	return flatten(m.Fields, map[string]string{"type": m.Type, "version": "1", "id": m.ID, "beaconId": m.BeaconID})
}

func (m *V1) UnmarshalJSON(data []byte) error {
	fields, h, err := split(data)
	if err != nil {
		return err
	}
	*m = V1{Type: h["type"], ID: h["id"], BeaconID: h["beaconId"], Fields: fields}
	return nil
}

func (m *V2) MarshalJSON() ([]byte, error) {
	return flatten(m.Fields, map[string]string{"type": m.Type, "version": "2", "id": m.ID, "senderId": m.SenderID})
}

func (m *V2) UnmarshalJSON(data []byte) error {
	fields, h, err := split(data)
	if err != nil {
		return err
	}
	*m = V2{Type: h["type"], ID: h["id"], SenderID: h["senderId"], Fields: fields}
	return nil
}

// Marshal renders m as envelope JSON.
func Marshal(m Message) ([]byte, error) {
	if v3, ok := m.(*V3); ok {
		v3.Version = "3"
	}
	return json.Marshal(m)
}

// Unmarshal parses envelope JSON, choosing the shape by its version field.
func Unmarshal(data []byte) (Message, error) {
	var probe struct {
		Version string `json:"version"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var m Message
	switch probe.Version {
	case "1":
		m = &V1{}
	case "2":
		m = &V2{}
	case "3":
		m = &V3{}
	default:
		return nil, &model.UnknownMessageError{Version: probe.Version, Type: probe.Type}
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode v%s envelope: %w", probe.Version, err)
	}
	return m, nil
}

// Encode serializes m for a relay text body: Base58Check over the JSON.
func Encode(m Message) (string, error) {
	data, err := Marshal(m)
	if err != nil {
		return "", err
	}
	return EncodeCheck(data), nil
}

func Decode(s string) (Message, error) {
	data, err := DecodeCheck(s)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
