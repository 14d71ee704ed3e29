package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPassphraseKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := PassphraseKey("correct horse", salt)
	k2 := PassphraseKey("correct horse", salt)
	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, PassphraseKey("battery staple", salt))
}
