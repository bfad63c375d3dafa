// Package tracecrypto contains the protocol primitives: P-256 ECDH and ECDSA,
// compressed point encoding, AES-CTR, HMAC-SHA256 and the enc/auth key split.
package tracecrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/and161185/venue-trace/internal/errs"
)

// Params
const (
	SecretLen  = 32
	AESKeyLen  = 16
	IVLen      = 16
	MACLen     = sha256.Size
	encKeyByte = 0x01
	macKeyByte = 0x02
)

// Rand reads n bytes from r. Failures map to errs.ErrRandomnessUnavailable.
func Rand(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRandomnessUnavailable, err)
	}
	return b, nil
}

// SHA256 hashes the concatenation of parts.
func SHA256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HMAC computes HMAC-SHA256(key, parts...).
func HMAC(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// VerifyHMAC compares mac against HMAC-SHA256(key, parts...) in constant time.
// A truncated mac is compared against the same-length prefix.
func VerifyHMAC(key, mac []byte, parts ...[]byte) bool {
	want := HMAC(key, parts...)
	if len(mac) == 0 || len(mac) > len(want) {
		return false
	}
	return hmac.Equal(mac, want[:len(mac)])
}

// EncryptionKey derives the AES-128 key SHA256(secret || 0x01)[:16].
func EncryptionKey(secret []byte) []byte {
	return SHA256(secret, []byte{encKeyByte})[:AESKeyLen]
}

// AuthenticationKey derives the HMAC key SHA256(secret || 0x02).
func AuthenticationKey(secret []byte) []byte {
	return SHA256(secret, []byte{macKeyByte})
}

// AESCTR encrypts or decrypts data with AES-CTR under key and iv.
func AESCTR(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv: want %d bytes, got %d", aes.BlockSize, len(iv))
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}
