package xray

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX25519KeyPair(t *testing.T) {
	priv, pub, err := X25519{}.GenerateKeyPair()
	require.NoError(t, err)
	assert.Len(t, priv, 43)
	assert.Len(t, pub, 43)

	derived, err := PublicKeyFromPrivate(priv)
	require.NoError(t, err)
	assert.Equal(t, pub, derived)
}

func TestX25519Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, _, err := X25519{Rand: bytes.NewReader(seed)}.GenerateKeyPair()
	require.NoError(t, err)
	b, _, err := X25519{Rand: bytes.NewReader(seed)}.GenerateKeyPair()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, _, err = X25519{Rand: bytes.NewReader(nil)}.GenerateKeyPair()
	assert.Error(t, err)
}

func TestPublicKeyFromPrivateRejectsGarbage(t *testing.T) {
	_, err := PublicKeyFromPrivate("!!!")
	assert.Error(t, err)
	_, err = PublicKeyFromPrivate("AAAA")
	assert.Error(t, err)
}

func TestNewShortID(t *testing.T) {
	sid, err := NewShortID(nil)
	require.NoError(t, err)
	assert.Len(t, sid, 8)
	_, err = hex.DecodeString(sid)
	assert.NoError(t, err)
}
