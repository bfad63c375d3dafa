// Package crypto implements at-rest sealing of persisted key material.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters (tuned for interactive device unlock).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	KeyLen              = 32
	SaltLen             = 16
)

var errShortBlob = errors.New("sealed blob too short")

// Sealer encrypts records with XChaCha20-Poly1305 under a per-record key
// expanded from a storage key. The record name is bound as AAD.
type Sealer struct {
	key  []byte
	rand io.Reader
}

// DeriveKey derives a storage key from passphrase and salt using Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// NewSealer returns a Sealer for a 32-byte storage key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeyLen {
		return nil, errors.New("storage key must be 32 bytes")
	}
	return &Sealer{key: append([]byte(nil), key...), rand: rand.Reader}, nil
}

// NewPassphraseSealer derives the storage key from passphrase and salt.
func NewPassphraseSealer(passphrase, salt []byte) (*Sealer, error) {
	return NewSealer(DeriveKey(passphrase, salt))
}

// Seal encrypts plaintext for the record name. Output is nonce||ciphertext.
func (s *Sealer) Seal(name string, plaintext []byte) ([]byte, error) {
	aead, err := s.aead(name)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(name)), nil
}

// Open decrypts a blob produced by Seal for the same record name.
func (s *Sealer) Open(name string, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errShortBlob
	}
	aead, err := s.aead(name)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, blob[chacha20poly1305.NonceSizeX:], []byte(name))
}

func (s *Sealer) aead(name string) (cipher.AEAD, error) {
	r := hkdf.New(sha256.New, s.key, nil, []byte(name))
	k := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(k)
}
