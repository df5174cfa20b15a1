package blobstore

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed payloads are magic || nonce || ciphertext.
var envelopeMagic = []byte("DPE1")

type envelope struct {
	aead cipher.AEAD
}

func newEnvelope(hexKey string) (*envelope, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &envelope{aead: aead}, nil
}

func (e *envelope) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(envelopeMagic)+len(nonce)+len(plain)+e.aead.Overhead())
	out = append(out, envelopeMagic...)
	out = append(out, nonce...)
	return e.aead.Seal(out, nonce, plain, envelopeMagic), nil
}

func (e *envelope) open(sealed []byte) ([]byte, error) {
	body := sealed[len(envelopeMagic):]
	ns := e.aead.NonceSize()
	if len(body) < ns {
		return nil, errors.New("sealed blob too short")
	}
	return e.aead.Open(nil, body[:ns], body[ns:], envelopeMagic)
}

func isSealed(payload []byte) bool {
	return bytes.HasPrefix(payload, envelopeMagic)
}
