package model

import "encoding/json"

type MessageType string

const (
	PermissionRequestType   MessageType = "permission_request"
	OperationRequestType    MessageType = "operation_request"
	SignPayloadRequestType  MessageType = "sign_payload_request"
	BroadcastRequestType    MessageType = "broadcast_request"
	TransferRequestType     MessageType = "transfer_request"
	PermissionResponseType  MessageType = "permission_response"
	OperationResponseType   MessageType = "operation_response"
	SignPayloadResponseType MessageType = "sign_payload_response"
	BroadcastResponseType   MessageType = "broadcast_response"
	TransferResponseType    MessageType = "transfer_response"
	AcknowledgeType         MessageType = "acknowledge"
	ErrorType               MessageType = "error"
	DisconnectType          MessageType = "disconnect"
)

const DefaultBlockchain = "tezos"

type (
	// Header is shared by every canonical message. It is filled from the wire
	// envelope and never serialized as part of the payload fields.
	Header struct {
		ID         string `json:"-"`
		SenderID   string `json:"-"`
		Version    string `json:"-"`
		Blockchain string `json:"-"`
	}

	// Message is the closed set of canonical messages exchanged between a
	// dApp and a wallet, independent of the wire version.
	Message interface {
		MessageHeader() *Header
		Type() MessageType
	}

	// Request is a Message a wallet must answer.
	Request interface {
		Message
		request()
	}

	// Response answers a Request with the same id.
	Response interface {
		Message
		response()
	}

	PermissionRequest struct {
		Header
		AppMetadata AppMetadata `json:"appMetadata"`
		Network     string      `json:"network,omitempty"`
		Scopes      []string    `json:"scopes"`
	}

	OperationRequest struct {
		Header
		SourceAddress string          `json:"sourceAddress"`
		Network       string          `json:"network,omitempty"`
		Details       json.RawMessage `json:"operationDetails,omitempty"`
	}

	SignPayloadRequest struct {
		Header
		SourceAddress string `json:"sourceAddress"`
		SigningType   string `json:"signingType,omitempty"`
		Payload       string `json:"payload"`
	}

	BroadcastRequest struct {
		Header
		Network           string `json:"network,omitempty"`
		SignedTransaction string `json:"signedTransaction"`
	}

	TransferRequest struct {
		Header
		SourceAddress string          `json:"sourceAddress"`
		Network       string          `json:"network,omitempty"`
		Amount        string          `json:"amount"`
		Recipient     string          `json:"recipient"`
		Options       json.RawMessage `json:"options,omitempty"`
	}

	PermissionResponse struct {
		Header
		PublicKey string   `json:"publicKey"`
		Address   string   `json:"address,omitempty"`
		Network   string   `json:"network,omitempty"`
		Scopes    []string `json:"scopes"`
	}

	OperationResponse struct {
		Header
		TransactionHash string `json:"transactionHash"`
	}

	SignPayloadResponse struct {
		Header
		SigningType string `json:"signingType,omitempty"`
		Signature   string `json:"signature"`
	}

	BroadcastResponse struct {
		Header
		TransactionHash string `json:"transactionHash"`
	}

	TransferResponse struct {
		Header
		TransactionHash string `json:"transactionHash"`
	}

	// Acknowledge tells the dApp a request arrived. It is never terminal.
	Acknowledge struct {
		Header
	}

	ErrorResponse struct {
		Header
		ErrorType   string `json:"errorType"`
		Description string `json:"description,omitempty"`
	}

	Disconnect struct {
		Header
	}
)

func (h *Header) MessageHeader() *Header { return h }

func (*PermissionRequest) Type() MessageType   { return PermissionRequestType }
func (*OperationRequest) Type() MessageType    { return OperationRequestType }
func (*SignPayloadRequest) Type() MessageType  { return SignPayloadRequestType }
func (*BroadcastRequest) Type() MessageType    { return BroadcastRequestType }
func (*TransferRequest) Type() MessageType     { return TransferRequestType }
func (*PermissionResponse) Type() MessageType  { return PermissionResponseType }
func (*OperationResponse) Type() MessageType   { return OperationResponseType }
func (*SignPayloadResponse) Type() MessageType { return SignPayloadResponseType }
func (*BroadcastResponse) Type() MessageType   { return BroadcastResponseType }
func (*TransferResponse) Type() MessageType    { return TransferResponseType }
func (*Acknowledge) Type() MessageType         { return AcknowledgeType }
func (*ErrorResponse) Type() MessageType       { return ErrorType }
func (*Disconnect) Type() MessageType          { return DisconnectType }

func (*PermissionRequest) request()  {}
func (*OperationRequest) request()   {}
func (*SignPayloadRequest) request() {}
func (*BroadcastRequest) request()   {}
func (*TransferRequest) request()    {}

func (*PermissionResponse) response()  {}
func (*OperationResponse) response()   {}
func (*SignPayloadResponse) response() {}
func (*BroadcastResponse) response()   {}
func (*TransferResponse) response()    {}
func (*Acknowledge) response()         {}
func (*ErrorResponse) response()       {}

// NewMessage returns an empty canonical message for t, or nil when t is not
// a known message type.
func NewMessage(t MessageType) Message {
	switch t {
	case PermissionRequestType:
		return &PermissionRequest{}
	case OperationRequestType:
		return &OperationRequest{}
	case SignPayloadRequestType:
		return &SignPayloadRequest{}
	case BroadcastRequestType:
		return &BroadcastRequest{}
	case TransferRequestType:
		return &TransferRequest{}
	case PermissionResponseType:
		return &PermissionResponse{}
	case OperationResponseType:
		return &OperationResponse{}
	case SignPayloadResponseType:
		return &SignPayloadResponse{}
	case BroadcastResponseType:
		return &BroadcastResponse{}
	case TransferResponseType:
		return &TransferResponse{}
	case AcknowledgeType:
		return &Acknowledge{}
	case ErrorType:
		return &ErrorResponse{}
	case DisconnectType:
		return &Disconnect{}
	}
	return nil
}

// IsTerminal reports whether sending m concludes the request it answers.
func IsTerminal(m Message) bool {
	_, ack := m.(*Acknowledge)
	return !ack
}
