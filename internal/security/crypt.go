package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var ErrKeySize = errors.New("encryption key must decode to 32 bytes")

// Sealer encrypts short payloads (webhook bodies kept for replay) with
// AES-256-GCM. Output is base64url(nonce|ciphertext).
type Sealer struct {
	gcm cipher.AEAD
}

func NewSealerFromBase64(b64 string) (*Sealer, error) {
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(k) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := s.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(b64url string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(b64url)
	if err != nil {
		return nil, err
	}
	ns := s.gcm.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("ciphertext too short")
	}
	return s.gcm.Open(nil, raw[:ns], raw[ns:], nil)
}
