package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

func Blake2b256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

func Blake2b256Hex(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

func Blake2b512(data ...[]byte) [64]byte {
	h, _ := blake2b.New512(nil)
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Blake2b returns an unkeyed digest of size bytes (1..64).
func Blake2b(size int, data []byte) ([]byte, error) {
	h, err := blake2b.New(size, nil)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}
