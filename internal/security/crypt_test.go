package security

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealerFromBase64(testKey())
	require.NoError(t, err)

	body := []byte(`{"id":123,"email":"a@b.com"}`)
	enc, err := s.Seal(body)
	require.NoError(t, err)
	assert.NotContains(t, enc, "a@b.com")

	other, err := s.Seal(body)
	require.NoError(t, err)
	assert.NotEqual(t, enc, other, "nonce must differ per seal")

	got, err := s.Open(enc)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestSealer_Rejects(t *testing.T) {
	_, err := NewSealerFromBase64(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrKeySize)

	_, err = NewSealerFromBase64("%%%")
	assert.Error(t, err)

	s, err := NewSealerFromBase64(testKey())
	require.NoError(t, err)

	_, err = s.Open("AAAA")
	assert.Error(t, err)

	enc, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(enc)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x02
	_, err = s.Open(base64.RawURLEncoding.EncodeToString(raw))
	assert.Error(t, err)
}
