// Package security derives per-peer session keys, encrypts payloads between
// paired peers and builds the pairing and login material the relay transport
// needs. Nothing here trusts the relay: sender identity is checked against the
// hash of the claimed public key, and anything that fails to decrypt is
// treated as traffic for someone else.
package security
