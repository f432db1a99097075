// Package secretcodec implements the symmetric encrypt/decrypt contract
// for persisted account credentials (spec.md §4.1).
package secretcodec

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/mineskin-go/generator/internal/apperr"
)

const keySize = 32

// Codec encrypts/decrypts with a single process-wide key, salsa20poly1305
// (nacl secretbox) with a random nonce stored alongside the ciphertext —
// the "stable output format including IV" spec.md §4.1 calls for.
type Codec struct {
	key [keySize]byte
}

// New builds a Codec from a base64-encoded 32-byte key.
func New(keyB64 string) (*Codec, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, errors.New("secretcodec: key is not valid base64")
	}
	if len(raw) != keySize {
		return nil, errors.New("secretcodec: key must be 32 bytes")
	}
	c := &Codec{}
	copy(c.key[:], raw)
	return c, nil
}

// Encrypt returns base64(nonce || box) for plain.
func (c *Codec) Encrypt(plain []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], plain, &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any failure — bad base64, short payload, a
// failed box open — surfaces as CREDENTIAL_UNREADABLE per spec.md §4.1.
func (c *Codec) Decrypt(cipherB64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCredentialUnreadable, err)
	}
	if len(raw) < 24 {
		return nil, apperr.ErrCredentialUnreadable
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return nil, apperr.ErrCredentialUnreadable
	}
	return plain, nil
}

// EncryptString/DecryptString are convenience wrappers over []byte forms.
func (c *Codec) EncryptString(plain string) (string, error) {
	return c.Encrypt([]byte(plain))
}

func (c *Codec) DecryptString(cipherB64 string) (string, error) {
	plain, err := c.Decrypt(cipherB64)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
