package security

import (
	"beacon_p2p/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingPayloadRoundTrip(t *testing.T) {
	kp := newKeyPair(t)
	local := model.Peer{
		ID:        "8d3f6a2e-1c6b-4a7e-9f58-2f4f6c1d0a11",
		Name:      "wallet",
		PublicKey: kp.PublicKeyHex(),
		Icon:      "https://wallet.example/icon.png",
		AppURL:    "https://wallet.example",
	}

	for _, v := range []string{"1", "2", "3"} {
		t.Run("v"+v, func(t *testing.T) {
			payload, err := BuildPairingPayload(local, "relay.example", v)
			require.NoError(t, err)

			got, err := ParsePairingPayload(payload)
			require.NoError(t, err)
			assert.Equal(t, local.PublicKey, got.PublicKey)
			assert.Equal(t, v, got.Version)
			assert.Equal(t, model.PairingResponseType, got.Type)
			if v != "1" {
				assert.Equal(t, local.Name, got.Name)
				assert.Equal(t, "relay.example", got.RelayServer)
				assert.Equal(t, local.AppURL, got.AppURL)
			}
		})
	}
}

func TestParsePairingPayloadRejectsGarbage(t *testing.T) {
	_, err := ParsePairingPayload([]byte("definitely not a key"))
	assert.Error(t, err)

	_, err = ParsePairingPayload([]byte(`{"name":"no key"}`))
	assert.Error(t, err)

	_, err = BuildPairingPayload(model.Peer{}, "relay", "7")
	var unknown *model.UnknownMessageError
	assert.ErrorAs(t, err, &unknown)
}

func TestChannelOpenFraming(t *testing.T) {
	kp := newKeyPair(t)
	recipient := RecipientID(kp.PublicKey, "relay.example")
	body := ChannelOpenMessage(recipient, "deadbeef")

	payload, ok := ParseChannelOpen(body, UserHash(kp.PublicKey))
	require.True(t, ok)
	assert.Equal(t, "deadbeef", payload)

	_, ok = ParseChannelOpen(body, UserHash(newKeyPair(t).PublicKey))
	assert.False(t, ok)

	_, ok = ParseChannelOpen("just chatting", UserHash(kp.PublicKey))
	assert.False(t, ok)
}
