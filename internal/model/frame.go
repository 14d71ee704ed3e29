package model

// Frame is the unit the relay websocket hub forwards between users. Payload
// is encrypted end to end; the hub only reads To.
type Frame struct {
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required"`
	PublicKey string `json:"publicKey" validate:"required"`
	Payload   string `json:"payload" validate:"required"`
}
