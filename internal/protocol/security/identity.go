package security

import (
	"beacon_p2p/internal/cryptographic/hash"
	"beacon_p2p/internal/cryptographic/signature"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/wire"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const loginBucket = 5 * time.Minute

// IsMessageFrom reports whether a relay sender id belongs to publicKey. The
// relay is not trusted to authenticate senders; this check is.
func IsMessageFrom(sender string, publicKey []byte) bool {
	return strings.HasPrefix(sender, "@"+UserHash(publicKey))
}

// IsMessageFromHex is IsMessageFrom for a hex encoded key.
func IsMessageFromHex(sender, publicKeyHex string) bool {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	return IsMessageFrom(sender, raw)
}

// SenderID is the short id peers put in message headers: Base58Check of a
// five byte BLAKE2b digest of the public key.
func SenderID(publicKey []byte) string {
	d, _ := hash.Blake2b(5, publicKey)
	return wire.EncodeCheck(d)
}

// ServerOf returns the relay server part of a user id "@hash:server".
func ServerOf(userID string) string {
	if i := strings.IndexByte(userID, ':'); i >= 0 {
		return userID[i+1:]
	}
	return ""
}

func loginDigest(t time.Time) [32]byte {
	bucket := t.Unix() / int64(loginBucket/time.Second)
	return hash.Blake2b256([]byte("login:" + strconv.FormatInt(bucket, 10)))
}

// LoginCredential derives the relay login for kp. The password signs the
// current five minute bucket, which bounds how long it can be replayed.
func LoginCredential(kp model.KeyPair, now time.Time) model.Credentials {
	digest := loginDigest(now)
	sig := signature.ED25519Sign(kp.SecretKey, digest[:])
	pk := kp.PublicKeyHex()
	return model.Credentials{
		User:     UserHash(kp.PublicKey),
		Password: "ed:" + hex.EncodeToString(sig) + ":" + pk,
		DeviceID: pk,
	}
}

// VerifyLoginCredential checks a password produced by LoginCredential for
// user. Signatures over the current or the previous bucket are accepted.
func VerifyLoginCredential(user, password string, now time.Time) bool {
	parts := strings.Split(password, ":")
	if len(parts) != 3 || parts[0] != "ed" {
		return false
	}
	sig, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	pk, err := hex.DecodeString(parts[2])
	if err != nil {
		return false
	}
	if UserHash(pk) != user {
		return false
	}
	for _, t := range []time.Time{now, now.Add(-loginBucket)} {
		d := loginDigest(t)
		if signature.ED25519Verify(pk, d[:], sig) {
			return true
		}
	}
	return false
}
