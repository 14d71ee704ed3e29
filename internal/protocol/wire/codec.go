package wire

import (
	"beacon_p2p/internal/model"
	"encoding/json"
	"fmt"
)

// FromCanonical renders msg in the given wire version.
func FromCanonical(msg model.Message, version string) (Message, error) {
	h := msg.MessageHeader()
	typ := msg.Type()

	fields, err := payloadFields(msg)
	if err != nil {
		return nil, err
	}

	switch version {
	case "1":
		return &V1{Type: string(typ), ID: h.ID, BeaconID: h.SenderID, Fields: fields}, nil
	case "2":
		return &V2{Type: string(typ), ID: h.ID, SenderID: h.SenderID, Fields: fields}, nil
	case "3":
		content := V3Content{BlockchainIdentifier: h.Blockchain}
		if content.BlockchainIdentifier == "" {
			content.BlockchainIdentifier = model.DefaultBlockchain
		}
		switch m := msg.(type) {
		case *model.PermissionRequest, *model.PermissionResponse:
			content.Type = string(typ)
			content.BlockchainData = fields
		case *model.Acknowledge, *model.Disconnect:
			content.Type = string(typ)
		case *model.ErrorResponse:
			content.Type = string(typ)
			content.ErrorType = m.ErrorType
			content.Description = m.Description
		case model.Request:
			content.Type = v3BlockchainRequest
			content.BlockchainData = withType(fields, typ)
		case model.Response:
			content.Type = v3BlockchainResponse
			content.BlockchainData = withType(fields, typ)
		default:
			return nil, &model.UnknownMessageError{Version: version, Type: string(typ)}
		}
		return &V3{ID: h.ID, Version: "3", SenderID: h.SenderID, Message: content}, nil
	}
	return nil, &model.UnknownMessageError{Version: version, Type: string(typ)}
}

// ToCanonical parses a wire message into its canonical form. Types outside
// the known set yield *model.UnknownMessageError.
func ToCanonical(m Message) (model.Message, error) {
	var (
		typ    string
		header model.Header
		fields Fields
	)
	header.Blockchain = model.DefaultBlockchain

	switch w := m.(type) {
	case *V1:
		typ, fields = w.Type, w.Fields
		header.ID, header.SenderID, header.Version = w.ID, w.BeaconID, "1"
	case *V2:
		typ, fields = w.Type, w.Fields
		header.ID, header.SenderID, header.Version = w.ID, w.SenderID, "2"
	case *V3:
		header.ID, header.SenderID, header.Version = w.ID, w.SenderID, "3"
		if w.Message.BlockchainIdentifier != "" {
			header.Blockchain = w.Message.BlockchainIdentifier
		}
		var err error
		typ, fields, err = unwrapV3(w.Message)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &model.UnknownMessageError{Version: m.WireVersion()}
	}

	out := model.NewMessage(model.MessageType(typ))
	if out == nil {
		return nil, &model.UnknownMessageError{Version: header.Version, Type: typ}
	}
	if len(fields) > 0 {
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
	}
	*out.MessageHeader() = header
	return out, nil
}

func unwrapV3(c V3Content) (string, Fields, error) {
	switch c.Type {
	case v3BlockchainRequest, v3BlockchainResponse:
		raw, ok := c.BlockchainData["type"]
		if !ok {
			return "", nil, &model.UnknownMessageError{Version: "3", Type: c.Type}
		}
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return "", nil, fmt.Errorf("decode blockchainData.type: %w", err)
		}
		msg := model.NewMessage(model.MessageType(inner))
		_, isReq := msg.(model.Request)
		_, isResp := msg.(model.Response)
		if msg == nil || (c.Type == v3BlockchainRequest && !isReq) || (c.Type == v3BlockchainResponse && !isResp) {
			return "", nil, &model.UnknownMessageError{Version: "3", Type: inner}
		}
		fields := make(Fields, len(c.BlockchainData))
		for k, v := range c.BlockchainData {
			if k != "type" {
				fields[k] = v
			}
		}
		return inner, fields, nil
	case string(model.ErrorType):
		fields := Fields{}
		if raw, err := json.Marshal(c.ErrorType); err == nil {
			fields["errorType"] = raw
		}
		if c.Description != "" {
			if raw, err := json.Marshal(c.Description); err == nil {
				fields["description"] = raw
			}
		}
		return c.Type, fields, nil
	}
	return c.Type, c.BlockchainData, nil
}

func payloadFields(msg model.Message) (Fields, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func withType(fields Fields, typ model.MessageType) Fields {
	out := make(Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"], _ = json.Marshal(string(typ))
	return out
}
