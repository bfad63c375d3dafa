// Package payload builds and opens the wire payloads of the check-in
// protocol. Every payload follows one pattern: ECDH, split the shared secret
// into an encryption and an authentication key, AES-CTR, HMAC-SHA256.
//
// The codec never retries and never swallows errors. Failures are reported
// as errs.ErrKeyUnavailable, errs.ErrKeyGenerationFailed,
// errs.ErrRandomnessUnavailable or errs.ErrEncodingFailed.
package payload

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
)

// Codec builds payloads for one device type.
type Codec struct {
	deviceType byte
	rand       io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithRand overrides the entropy source used for IVs, signatures and
// ephemeral scanner keys.
func WithRand(r io.Reader) Option { return func(c *Codec) { c.rand = r } }

// NewCodec constructs a Codec.
func NewCodec(deviceType int, opts ...Option) *Codec {
	c := &Codec{deviceType: byte(deviceType), rand: rand.Reader}
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope is an encrypted, authenticated message for a recipient key.
type envelope struct {
	Data      []byte
	IV        []byte
	MAC       []byte
	PublicKey []byte // compressed sender ephemeral key
}

// seal encrypts plaintext for recipient. A nil eph is replaced by a fresh key.
func (c *Codec) seal(recipient []byte, eph *ecdh.PrivateKey, plaintext []byte) (envelope, error) {
	pub, err := tracecrypto.ParsePublicKey(recipient)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: recipient key: %v", errs.ErrKeyUnavailable, err)
	}
	if eph == nil {
		if eph, err = tracecrypto.GenerateKeyPair(c.rand); err != nil {
			return envelope{}, fmt.Errorf("%w: %v", errs.ErrKeyGenerationFailed, err)
		}
	}
	dh, err := tracecrypto.SharedSecret(eph, pub)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: ecdh: %v", errs.ErrKeyUnavailable, err)
	}
	iv, err := tracecrypto.Rand(c.rand, tracecrypto.IVLen)
	if err != nil {
		return envelope{}, err
	}
	ct, err := tracecrypto.AESCTR(tracecrypto.EncryptionKey(dh), iv, plaintext)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %v", errs.ErrKeyUnavailable, err)
	}
	return envelope{
		Data:      ct,
		IV:        iv,
		MAC:       tracecrypto.HMAC(tracecrypto.AuthenticationKey(dh), ct),
		PublicKey: tracecrypto.CompressPublicKey(eph.PublicKey()),
	}, nil
}

// open verifies and decrypts env with the recipient private key.
func open(priv *ecdh.PrivateKey, env envelope) ([]byte, error) {
	pub, err := tracecrypto.ParsePublicKey(env.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sender key: %v", errs.ErrKeyUnavailable, err)
	}
	dh, err := tracecrypto.SharedSecret(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", errs.ErrKeyUnavailable, err)
	}
	if !tracecrypto.VerifyHMAC(tracecrypto.AuthenticationKey(dh), env.MAC, env.Data) || len(env.MAC) != tracecrypto.MACLen {
		return nil, errs.ErrMacMismatch
	}
	return tracecrypto.AESCTR(tracecrypto.EncryptionKey(dh), env.IV, env.Data)
}
