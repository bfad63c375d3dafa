package tracecrypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Point encodings of P-256 public keys.
const (
	CompressedKeyLen   = 33
	UncompressedKeyLen = 65
	coordLen           = 32
)

var errBadPoint = errors.New("invalid P-256 point")

// GenerateKeyPair creates a P-256 ECDH keypair.
func GenerateKeyPair(r io.Reader) (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(r)
}

// ParsePrivateKey restores an ECDH private key from its 32-byte scalar.
func ParsePrivateKey(b []byte) (*ecdh.PrivateKey, error) {
	return ecdh.P256().NewPrivateKey(b)
}

// ParsePublicKey accepts a compressed or uncompressed P-256 point.
func ParsePublicKey(b []byte) (*ecdh.PublicKey, error) {
	raw, err := uncompressed(b)
	if err != nil {
		return nil, err
	}
	return ecdh.P256().NewPublicKey(raw)
}

// CompressPublicKey returns the 33-byte compressed form of pub.
func CompressPublicKey(pub *ecdh.PublicKey) []byte {
	raw := pub.Bytes()
	out := make([]byte, CompressedKeyLen)
	out[0] = 0x02 | (raw[UncompressedKeyLen-1] & 1)
	copy(out[1:], raw[1:1+coordLen])
	return out
}

// SharedSecret computes the raw ECDH x-coordinate.
func SharedSecret(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	return priv.ECDH(pub)
}

// GenerateSigningKey creates a P-256 ECDSA key.
func GenerateSigningKey(r io.Reader) (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), r)
}

// MarshalSigningKey encodes k as PKCS#8 DER.
func MarshalSigningKey(k *ecdsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(k)
}

// ParseSigningKey decodes a PKCS#8 DER P-256 key.
func ParseSigningKey(der []byte) (*ecdsa.PrivateKey, error) {
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	ek, ok := k.(*ecdsa.PrivateKey)
	if !ok || ek.Curve != elliptic.P256() {
		return nil, errors.New("signing key is not P-256 ECDSA")
	}
	return ek, nil
}

// MarshalSigningPublicKey returns the uncompressed point of pub.
func MarshalSigningPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	ek, err := pub.ECDH()
	if err != nil {
		return nil, err
	}
	return ek.Bytes(), nil
}

// ParseSigningPublicKey accepts a compressed or uncompressed P-256 point.
func ParseSigningPublicKey(b []byte) (*ecdsa.PublicKey, error) {
	raw, err := uncompressed(b)
	if err != nil {
		return nil, err
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPoint, err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1 : 1+coordLen]),
		Y:     new(big.Int).SetBytes(raw[1+coordLen:]),
	}, nil
}

// Sign returns an ASN.1 ECDSA signature over SHA256(msg).
func Sign(r io.Reader, key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	return ecdsa.SignASN1(r, key, SHA256(msg))
}

// Verify checks an ASN.1 ECDSA signature over SHA256(msg).
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) bool {
	if pub == nil {
		return false
	}
	return ecdsa.VerifyASN1(pub, SHA256(msg), sig)
}

func uncompressed(b []byte) ([]byte, error) {
	switch len(b) {
	case UncompressedKeyLen:
		if b[0] != 0x04 {
			return nil, errBadPoint
		}
		return b, nil
	case CompressedKeyLen:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), b)
		if x == nil {
			return nil, errBadPoint
		}
		out := make([]byte, UncompressedKeyLen)
		out[0] = 0x04
		x.FillBytes(out[1 : 1+coordLen])
		y.FillBytes(out[1+coordLen:])
		return out, nil
	default:
		return nil, fmt.Errorf("%w: length %d", errBadPoint, len(b))
	}
}
