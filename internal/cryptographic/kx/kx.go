// Package kx derives directional session keys from two X25519 key pairs, in
// the layout of libsodium's crypto_kx: h = BLAKE2b-512(q || clientPk || serverPk).
package kx

import (
	"beacon_p2p/internal/cryptographic/dh"
	"beacon_p2p/internal/cryptographic/hash"
	"fmt"
)

// ClientSessionKeys returns (rx, tx) for the client side.
func ClientSessionKeys(clientPk, clientSk, serverPk [32]byte) (rx, tx [32]byte, err error) {
	q, err := dh.X25519SharedSecret(clientSk, serverPk)
	if err != nil {
		return rx, tx, fmt.Errorf("kx client: %w", err)
	}
	h := hash.Blake2b512(q, clientPk[:], serverPk[:])
	copy(rx[:], h[:32])
	copy(tx[:], h[32:])
	return rx, tx, nil
}

// ServerSessionKeys returns (rx, tx) for the server side.
func ServerSessionKeys(serverPk, serverSk, clientPk [32]byte) (rx, tx [32]byte, err error) {
	q, err := dh.X25519SharedSecret(serverSk, clientPk)
	if err != nil {
		return rx, tx, fmt.Errorf("kx server: %w", err)
	}
	h := hash.Blake2b512(q, clientPk[:], serverPk[:])
	copy(rx[:], h[32:])
	copy(tx[:], h[:32])
	return rx, tx, nil
}
