package wire

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"
)

var ErrChecksum = errors.New("base58check: checksum mismatch")

func checksum(data []byte) []byte {
	h1 := sha256.Sum256(data)
	h2 := sha256.Sum256(h1[:])
	return h2[:4]
}

// EncodeCheck appends a 4-byte double SHA-256 checksum and base58 encodes.
func EncodeCheck(data []byte) string {
	buf := make([]byte, 0, len(data)+4)
	buf = append(buf, data...)
	buf = append(buf, checksum(data)...)
	return base58.Encode(buf)
}

func DecodeCheck(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, ErrChecksum
	}
	data, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(checksum(data), sum) {
		return nil, ErrChecksum
	}
	return data, nil
}
